// Package propbind binds externalized configuration to live Go structs and
// tells interested parties when a bound value actually changes.
//
// # Binding Contexts
//
// A BindingContext ties one configuration prefix to one bean (a pointer to a
// struct). At construction the bean type is walked depth first and every
// exported field, nested structs included, receives a configuration key made
// of the prefix and the dashed form of the field's property name:
//
//	type Service struct {
//		Host       string
//		MaxRetries int
//		Retry      struct{ Max int }
//	}
//
//	bc, err := propbind.NewBindingContext(Service{}, "app")
//	// app.host         -> host
//	// app.max-retries  -> maxRetries
//	// app.retry        -> retry
//	// app.retry.max    -> retry.max
//
// Field names can be overridden with a `bind:"name"` tag and excluded with
// `bind:"-"`. Embedded structs contribute their fields to the outer type.
// Types that refer back to themselves are rejected with
// ErrCodeCyclicBeanGraph.
//
// # Applying Updates
//
// After Initialize has attached the live bean, SetProperty and
// SetPropertyValue convert the incoming value to the declared field type,
// compare it with the current value and, only when the two differ, write it
// and notify:
//
//	svc := &Service{}
//	_ = bc.Initialize(svc)
//	remove := bc.OnPropertyChange(func(e propbind.PropertyChangeEvent) {
//		log.Printf("%s: %v -> %v", e.PropertyName, e.OldValue, e.NewValue)
//	})
//	defer remove()
//	_ = bc.SetPropertyValue("app.retry.max", "5")
//
// Listeners run synchronously in registration order. A panicking listener is
// isolated by default; WithListenerFailurePolicy(ListenerAbort) turns the
// first failure into an ErrCodeListenerFailed error instead. When an event
// publisher is configured with WithEventPublisher, every change is also
// published as a BeanPropertyChangedEvent.
//
// Conversion is performed by a ConversionService. The default one handles
// strings, booleans, all numeric kinds with overflow checks, time.Duration,
// time.Time, encoding.TextUnmarshaler, slices, maps and structs. Typed
// converters can be added with AddConverter.
//
// # Sources and the Binder
//
// A Binder reads values from PropertySources in precedence order and applies
// them to every registered context:
//
//	file, _ := propbind.NewFileSource("app.yaml")
//	binder := propbind.NewBinder(propbind.NewEnvSource("MYAPP_"), file)
//	_ = binder.Register(bc)
//	report, err := binder.Bind(ctx)
//
// Available sources: MapSource (in-memory maps), FileSource (JSON, YAML, INI
// and Java properties files), EnvSource (APP_MAXRETRIES or APP_MAX_RETRIES for
// app.max-retries) and FlagSource (--app.max-retries=3). Keys in every source
// are matched in relaxed form, so maxRetries, max_retries and max-retries all
// reach the same property.
//
// # Watching Files
//
// Binder.WatchFile and WatchAndBind start a polling Watcher that re-reads the
// file and re-runs the binding pass on every change. The watcher caches
// os.Stat() results, validates every path against traversal tricks and can
// record an audit trail in SQLite or JSONL:
//
//	bc, watcher, err := propbind.WatchAndBind("app.yaml", svc, "app", propbind.Config{
//		PollInterval: time.Second,
//		Audit:        propbind.AuditConfig{Enabled: true, OutputFile: "audit.db"},
//	})
//	defer watcher.Close()
//
// # Audit Trail
//
// An AuditLogger subscribed to an EventBus records every applied change with
// key, property path, origin, old and new value and a SHA-256 checksum:
//
//	bus := propbind.NewEventBus(nil)
//	audit, _ := propbind.NewAuditLogger(propbind.DefaultAuditConfig())
//	defer audit.Close()
//	bus.Subscribe(audit.Handler())
//	bc, _ := propbind.NewBindingContext(Service{}, "app", propbind.WithEventPublisher(bus))
//
// History can be queried with AuditLogger.Query and trimmed with Cleanup.
//
// # Errors
//
// All errors carry a PROPBIND_* code from github.com/agilira/go-errors;
// ErrorCode(err) extracts it.
package propbind
