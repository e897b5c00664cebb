// Package simple provides a high-level, batteries-included API for smarterid.
//
// # Philosophy
//
// The Simple API is designed for applications that want UUIDs on their
// structs without wiring generators, state stores and Redis by hand. It provides:
//
//   - Automatic configuration from environment variables
//   - Type-safe ID assignment using generics
//   - ID versions chosen via struct tags
//   - Graceful degradation when Redis is unavailable
//
// # Quick Start
//
// Create a struct with tags and start stamping IDs:
//
//	type User struct {
//	    ID    string `json:"id" sid:"id"`
//	    Email string `json:"email" sid:"name"`
//	    Name  string `json:"name"`
//	}
//
//	db := simple.MustConnect()
//	defer db.Close()
//
//	users := simple.NewCollection[User](db)
//	user, err := users.Create(ctx, &User{
//	    Email: "alice@example.com",
//	    Name:  "Alice",
//	})
//
// # Struct Tags
//
// The Simple API uses struct tags to configure behavior:
//
//   - sid:"id" - Marks the ID field (defaults to field named "ID")
//   - sid:"id,v1" / sid:"id,v4" / sid:"id,v5" - Picks the ID version
//   - sid:"name" - Field whose value is part of the name of version 5 IDs
//
// The ID field may be a string (canonical text form) or a smarterid.UUID.
// Types with name fields get deterministic version 5 IDs, all others random
// version 4 IDs.
//
// Example:
//
//	type Event struct {
//	    ID   smarterid.UUID `json:"id" sid:"id,v1"`
//	    Kind string         `json:"kind"`
//	}
//
// # Configuration
//
// The Simple API auto-detects configuration from environment:
//
//   - SMARTERID_DATA: Directory for version 1 generator state (default: none)
//   - SMARTERID_NODE: hardware, random or static (default: "hardware")
//   - REDIS_ADDR: Redis address; enables the shared clock sequence and state lock
//   - REDIS_PASSWORD: Redis password (optional)
//   - REDIS_DB: Redis database number (default: 0)
//
// Example .env file:
//
//	SMARTERID_DATA=./myapp-data
//	REDIS_ADDR=localhost:6379
//
// # Error Handling
//
// The Simple API provides two initialization styles:
//
// 1. Connect() - Returns error for production use:
//
//	db, err := simple.Connect()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// 2. MustConnect() - Panics on error for demos/prototypes:
//
//	db := simple.MustConnect()
//	defer db.Close()
//
// # Escape Hatches
//
// The Simple API provides access to the underlying generator when you need it:
//
//	gen := db.Generator()
//	u, err := gen.Generate(ctx, smarterid.Params{Version: smarterid.VersionMD5, Namespace: ns, Name: name})
//
//	// Access Distributed Lock
//	lock := db.Lock()
//	release, err := lock.Lock(ctx, "critical-section", 10*time.Second)
//
// # Collection Naming
//
// Collection names are inferred from type names with smart pluralization,
// and each name gets its own version 5 namespace:
//
//	NewCollection[User](db)     // -> "Users"
//	NewCollection[Person](db)   // -> "people"
//
// Override with explicit name:
//
//	NewCollection[User](db, "customers")  // -> "customers"
//
// # Immutability
//
// The Create() method returns a new object with ID populated, leaving the
// input unchanged:
//
//	user := &User{Email: "alice@example.com"}
//	created, err := users.Create(ctx, user)
//	// user.ID == ""        (unchanged)
//	// created.ID == "..."  (populated)
package simple
