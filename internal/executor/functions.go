package executor

import (
	"context"
	"strconv"

	"github.com/adrianmcphee/smarterid"
)

// ServerVersion is reported by version().
const ServerVersion = "PostgreSQL 15.0 (smarterid)"

type function struct {
	args int
	call func(ctx context.Context, e *Executor, args []value) (value, error)
}

// functions are the uuid-ossp functions plus the few helpers clients probe for.
var functions = map[string]function{
	"uuid_generate_v1": {0, func(ctx context.Context, e *Executor, _ []value) (value, error) {
		return uuidValue(e.gen.V1WithRetry(ctx, smarterid.DefaultRetryConfig()))
	}},
	"uuid_generate_v1mc": {0, func(ctx context.Context, e *Executor, _ []value) (value, error) {
		return uuidValue(e.mcGen.V1WithRetry(ctx, smarterid.DefaultRetryConfig()))
	}},
	"uuid_generate_v3": {2, func(_ context.Context, e *Executor, args []value) (value, error) {
		ns, err := uuidArg(args[0])
		if err != nil {
			return value{}, err
		}
		return uuidValue(e.gen.V3(ns, []byte(args[1].text)), nil)
	}},
	"uuid_generate_v4": {0, func(_ context.Context, e *Executor, _ []value) (value, error) {
		return uuidValue(e.gen.V4())
	}},
	"gen_random_uuid": {0, func(_ context.Context, e *Executor, _ []value) (value, error) {
		return uuidValue(e.gen.V4())
	}},
	"uuid_generate_v5": {2, func(_ context.Context, e *Executor, args []value) (value, error) {
		ns, err := uuidArg(args[0])
		if err != nil {
			return value{}, err
		}
		return uuidValue(e.gen.V5(ns, []byte(args[1].text)), nil)
	}},
	"uuid_nil":     constant(smarterid.Nil),
	"uuid_ns_dns":  constant(smarterid.NamespaceDNS),
	"uuid_ns_url":  constant(smarterid.NamespaceURL),
	"uuid_ns_oid":  constant(smarterid.NamespaceOID),
	"uuid_ns_x500": constant(smarterid.NamespaceX500),
	"uuid_version": {1, func(_ context.Context, _ *Executor, args []value) (value, error) {
		u, err := uuidArg(args[0])
		if err != nil {
			return value{}, err
		}
		return value{text: strconv.Itoa(int(u.Version())), oid: Int4OID}, nil
	}},
	"uuid_variant": {1, func(_ context.Context, _ *Executor, args []value) (value, error) {
		u, err := uuidArg(args[0])
		if err != nil {
			return value{}, err
		}
		return value{text: strconv.Itoa(int(u.Variant())), oid: Int4OID}, nil
	}},
	"version": {0, func(context.Context, *Executor, []value) (value, error) {
		return value{text: ServerVersion, oid: TextOID}, nil
	}},
}

func constant(u smarterid.UUID) function {
	return function{0, func(context.Context, *Executor, []value) (value, error) {
		return value{text: u.String(), oid: UUIDOID}, nil
	}}
}

func uuidValue(u smarterid.UUID, err error) (value, error) {
	if err != nil {
		return value{}, err
	}
	return value{text: u.String(), oid: UUIDOID}, nil
}

func uuidArg(v value) (smarterid.UUID, error) {
	u, err := smarterid.Parse(v.text)
	if err != nil {
		return smarterid.Nil, newError(CodeInvalidText, err, "invalid input syntax for type uuid: %q", v.text)
	}
	return u, nil
}
