// Package groutine starts goroutines carrying a pprof name label, so loop and
// procedure goroutines can be told apart in profiles and stack dumps.
package groutine

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"runtime/pprof"
	"strconv"
)

type ctxKey string

const nameKey ctxKey = "goroutine_name"

// Go runs fn on a new goroutine labelled name and returns a channel closed when
// fn returns. A nil parent means context.Background().
//
//	done := groutine.Go(ctx, groutine.Name("goble", "discover services", 1), func(ctx context.Context) {
//	    // blocking work
//	})
func Go(parent context.Context, name string, fn func(ctx context.Context)) <-chan struct{} {
	if parent == nil {
		parent = context.Background()
	}

	done := make(chan struct{})
	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parent, labels, func(ctx context.Context) {
		defer close(done)
		fn(context.WithValue(ctx, nameKey, name))
	})
	return done
}

// Name builds a goroutine name of the form "component/part/part".
func Name(component string, parts ...any) string {
	var b bytes.Buffer
	b.WriteString(component)
	for _, p := range parts {
		b.WriteByte('/')
		fmt.Fprint(&b, p)
	}
	return b.String()
}

// GetName returns the name Go attached to ctx, or "".
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(nameKey).(string); ok {
		return s
	}
	return ""
}

// ID returns the runtime goroutine id of the caller, parsed from its stack header.
// Only use it to compare goroutine identity, never for scheduling.
func ID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	gid, _ := strconv.ParseUint(string(b[:i]), 10, 64)
	return gid
}
