package simple

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/adrianmcphee/smarterid"
)

// Collection stamps UUIDs onto values of one entity type.
// It uses generics to eliminate boilerplate and provide compile-time safety.
//
// Example:
//
//	type User struct {
//	    ID    string `json:"id" sid:"id"`
//	    Email string `json:"email" sid:"name"`
//	    Name  string `json:"name"`
//	}
//
//	users := simple.NewCollection[User](db)
//	user, err := users.Create(ctx, &User{Email: "alice@example.com", Name: "Alice"})
//	// user.ID is the version 5 UUID of "alice@example.com" in the users namespace
type Collection[T any] struct {
	db        *DB
	name      string
	namespace smarterid.UUID
	modelInfo *ModelInfo
}

// ModelInfo contains metadata about the model type.
type ModelInfo struct {
	Name       string
	IDField    string
	IDIsUUID   bool              // ID field is a smarterid.UUID rather than a string
	NameFields []string          // fields hashed into name-based IDs, in declaration order
	Version    smarterid.Version // version of generated IDs
}

var uuidType = reflect.TypeOf(smarterid.UUID{})

// NewCollection creates a new type-safe collection.
// Collection name is inferred from type name (User -> "Users") and names the
// collection's namespace. Override with explicit name: NewCollection[User](db, "customers")
//
// Struct tags:
//   - sid:"id" marks the ID field (defaults to field named "ID"); append
//     ",v1", ",v4" or ",v5" to pick the version
//   - sid:"name" marks fields whose values form the name of version 5 IDs
//
// Without name fields IDs are version 4; with them they default to version 5.
func NewCollection[T any](db *DB, name ...string) *Collection[T] {
	var t T
	typeName := getTypeName(t)

	collectionName := pluralize(typeName)
	if len(name) > 0 && name[0] != "" {
		collectionName = name[0]
	}

	c := &Collection[T]{
		db:        db,
		name:      collectionName,
		namespace: db.gen.V5(smarterid.NamespaceURL, []byte("urn:smarterid:"+collectionName)),
	}
	c.parseModelInfo()

	return c
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Namespace returns the namespace UUID that version 5 IDs are derived in.
func (c *Collection[T]) Namespace() smarterid.UUID {
	return c.namespace
}

// Model returns the parsed struct metadata.
func (c *Collection[T]) Model() ModelInfo {
	return *c.modelInfo
}

// Create returns a copy of item with its ID set. An ID that is already set is kept.
// The input is never mutated.
//
// Example:
//
//	user := &User{Email: "alice@example.com", Name: "Alice"}
//	created, err := users.Create(ctx, user)
//	// created.ID is now set, original user unchanged
func (c *Collection[T]) Create(ctx context.Context, item *T) (*T, error) {
	if item == nil {
		return nil, fmt.Errorf("item cannot be nil")
	}

	// Create a copy to avoid mutating input
	created, err := c.copyItem(item)
	if err != nil {
		return nil, err
	}

	if c.hasID(created) {
		return created, nil
	}

	id, err := c.newID(ctx, created)
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s id: %w", c.name, err)
	}
	c.setID(created, id)

	return created, nil
}

// CreateMany stamps every item, stopping at the first error.
func (c *Collection[T]) CreateMany(ctx context.Context, items []*T) ([]*T, error) {
	out := make([]*T, 0, len(items))
	for i, item := range items {
		created, err := c.Create(ctx, item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, created)
	}
	return out, nil
}

// IDFor returns the version 5 ID that an item with the given name field
// values receives. Use it to look up entities by natural key.
//
// Values are joined with '/', escaping '/' and '\' inside them, so
// ("a/b", "c") and ("a", "b/c") name different IDs. A single value without
// either character is hashed as is.
//
// Example:
//
//	id := users.IDFor("alice@example.com")
func (c *Collection[T]) IDFor(names ...string) smarterid.UUID {
	escaped := make([]string, len(names))
	for i, n := range names {
		escaped[i] = nameEscaper.Replace(n)
	}
	return c.db.gen.V5(c.namespace, []byte(strings.Join(escaped, "/")))
}

var nameEscaper = strings.NewReplacer(`\`, `\\`, "/", `\/`)

// Helper methods

func (c *Collection[T]) newID(ctx context.Context, item *T) (smarterid.UUID, error) {
	switch c.modelInfo.Version {
	case smarterid.VersionTimeBased:
		return c.db.gen.V1WithRetry(ctx, smarterid.DefaultRetryConfig())
	case smarterid.VersionSHA1:
		names, err := c.names(item)
		if err != nil {
			return smarterid.Nil, err
		}
		return c.IDFor(names...), nil
	default:
		return c.db.gen.V4()
	}
}

func (c *Collection[T]) names(item *T) ([]string, error) {
	if len(c.modelInfo.NameFields) == 0 {
		return nil, fmt.Errorf("%s has no sid:\"name\" fields", c.modelInfo.Name)
	}

	val := reflect.ValueOf(item).Elem()
	names := make([]string, len(c.modelInfo.NameFields))
	empty := true
	for i, f := range c.modelInfo.NameFields {
		names[i] = fmt.Sprint(val.FieldByName(f).Interface())
		if names[i] != "" {
			empty = false
		}
	}
	if empty {
		return nil, fmt.Errorf("name fields %v are empty", c.modelInfo.NameFields)
	}
	return names, nil
}

func (c *Collection[T]) parseModelInfo() {
	var t T
	typ := reflect.TypeOf(t)

	c.modelInfo = &ModelInfo{
		Name:    typ.Name(),
		IDField: "ID",
		Version: smarterid.VersionRandom,
	}

	if typ.Kind() != reflect.Struct {
		return
	}

	explicitVersion := false

	// Parse struct tags
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("sid")

		if tag == "" {
			continue
		}

		parts := strings.Split(tag, ",")

		switch parts[0] {
		case "id":
			c.modelInfo.IDField = field.Name
			for _, opt := range parts[1:] {
				switch opt {
				case "v1":
					c.modelInfo.Version = smarterid.VersionTimeBased
					explicitVersion = true
				case "v4":
					c.modelInfo.Version = smarterid.VersionRandom
					explicitVersion = true
				case "v5":
					c.modelInfo.Version = smarterid.VersionSHA1
					explicitVersion = true
				}
			}
		case "name":
			c.modelInfo.NameFields = append(c.modelInfo.NameFields, field.Name)
		}
	}

	if !explicitVersion && len(c.modelInfo.NameFields) > 0 {
		c.modelInfo.Version = smarterid.VersionSHA1
	}

	if f, ok := typ.FieldByName(c.modelInfo.IDField); ok {
		c.modelInfo.IDIsUUID = f.Type == uuidType
	}
}

func (c *Collection[T]) hasID(item *T) bool {
	field := reflect.ValueOf(item).Elem().FieldByName(c.modelInfo.IDField)
	if !field.IsValid() {
		return false
	}
	if c.modelInfo.IDIsUUID {
		return !field.Interface().(smarterid.UUID).IsNil()
	}
	return field.Kind() == reflect.String && field.String() != ""
}

func (c *Collection[T]) setID(item *T, id smarterid.UUID) {
	field := reflect.ValueOf(item).Elem().FieldByName(c.modelInfo.IDField)
	if !field.IsValid() || !field.CanSet() {
		return
	}
	if c.modelInfo.IDIsUUID {
		field.Set(reflect.ValueOf(id))
		return
	}
	if field.Kind() == reflect.String {
		field.SetString(id.String())
	}
}

func (c *Collection[T]) copyItem(item *T) (*T, error) {
	// Marshal and unmarshal to create a deep copy
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to copy item: %w", err)
	}

	var copy T
	if err := json.Unmarshal(data, &copy); err != nil {
		return nil, fmt.Errorf("failed to copy item: %w", err)
	}

	return &copy, nil
}

func getTypeName(v interface{}) string {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

func pluralize(s string) string {
	// Simple pluralization rules
	lower := strings.ToLower(s)

	// Irregular plurals
	irregulars := map[string]string{
		"person": "people",
		"child":  "children",
		"goose":  "geese",
		"tooth":  "teeth",
		"foot":   "feet",
		"mouse":  "mice",
	}

	if plural, ok := irregulars[lower]; ok {
		return plural
	}

	// Words ending in 'y' (preceded by consonant) -> 'ies'
	if len(s) > 1 && s[len(s)-1] == 'y' {
		preceding := s[len(s)-2]
		if !isVowel(rune(preceding)) {
			return s[:len(s)-1] + "ies"
		}
	}

	// Words ending in s, x, z, ch, sh -> add 'es'
	if strings.HasSuffix(lower, "s") || strings.HasSuffix(lower, "x") ||
		strings.HasSuffix(lower, "z") || strings.HasSuffix(lower, "ch") ||
		strings.HasSuffix(lower, "sh") {
		return s + "es"
	}

	// Default: add 's'
	return s + "s"
}

func isVowel(r rune) bool {
	return r == 'a' || r == 'e' || r == 'i' || r == 'o' || r == 'u'
}
