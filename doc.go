// Package tabula is a generic data-access engine. An Engine introspects a
// PostgreSQL, MySQL or SQLite catalog on connect and exposes one repository
// per table whose reads and writes are driven by a JSON-shaped filter
// language compiled into parameterized SQL.
//
//	engine, err := tabula.New(&database.ConnectionConfig{Type: "sqlite", DBName: "app.db"})
//	if err != nil {
//		return err
//	}
//	if err := engine.Connect(ctx); err != nil {
//		return err
//	}
//	defer engine.Disconnect()
//
//	users, _ := engine.Repository("users")
//	rows, err := users.Find(ctx, filter.Where(filter.Element{
//		"email": filter.Ops{"$like": "%@x.com"},
//	}), nil)
package tabula
