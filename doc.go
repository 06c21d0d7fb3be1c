// Package filesession persists web session attributes in one file per
// session on local disk.
//
// A Store is used from inside a request Scope. The first access to a session
// id within a scope opens the session file, takes its advisory ".lock"
// sidecar, decodes the attribute mapping and caches it in the scope. Every
// later Get, Set or Delete for that id in the same scope works on the cached
// mapping. When the scope closes, a mapping that was modified is written back
// under the lock, or the file is removed when the mapping became empty.
//
//	store, err := filesession.New(filesession.Config{ApplicationName: "shop"})
//	if err != nil { log.Fatal(err) }
//	http.Handle("/", filesession.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	    scope := filesession.ScopeFromContext(r.Context())
//	    visits, _ := store.Get(scope, sid, "visits", int64(0)).(int64)
//	    _ = store.Set(scope, sid, "visits", visits+1)
//	})))
//
// Failures never surface to callers of Get, Set or Delete. A session file that
// cannot be created, locked or decoded is treated as an empty mapping and the
// problem is logged. Locking is advisory and bounded by Config.LockTimeout, so
// two writers of the same session can still lose updates when a lock wait
// expires.
//
// Payloads are MessagePack by default; Config.Codec selects "protobuf"
// (google.protobuf.Struct) instead. With Config.KeyFile set, payloads are
// encrypted with kryptograf before they reach the disk.
package filesession
