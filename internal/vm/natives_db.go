package vm

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLite natives. Handles are opaque numbers mapping to open connections
// owned by the VM; Close releases anything a script left open. Query
// results come back as a list of maps, one per row.

type dbConn struct {
	db *sql.DB
}

func (vm *VM) defineDatabaseNatives(globals *Table) {
	vm.defineNative(globals, "dbOpen", dbOpenNative, 1)
	vm.defineNative(globals, "dbExec", dbExecNative, 2)
	vm.defineNative(globals, "dbQuery", dbQueryNative, 2)
	vm.defineNative(globals, "dbClose", dbCloseNative, 1)
}

func (vm *VM) lookupDB(handle Value) (*dbConn, bool) {
	if !handle.IsNumber() {
		vm.RuntimeError("Database handle must be a number.")
		return nil, false
	}
	conn, ok := vm.dbHandles[int(handle.AsNumber())]
	if !ok {
		vm.RuntimeError("Unknown database handle.")
		return nil, false
	}
	return conn, true
}

func dbOpenNative(vm *VM, argCount int, args []Value) Value {
	path, ok := asString(args[0])
	if !ok {
		vm.RuntimeError("Database path must be a string.")
		return ErrorValue()
	}

	db, err := sql.Open("sqlite", path.Chars)
	if err != nil {
		vm.RuntimeError("Could not open database \"%s\": %v.", path.Chars, err)
		return ErrorValue()
	}
	if err := db.Ping(); err != nil {
		db.Close()
		vm.RuntimeError("Could not open database \"%s\": %v.", path.Chars, err)
		return ErrorValue()
	}

	vm.nextDB++
	handle := vm.nextDB
	vm.dbHandles[handle] = &dbConn{db: db}
	return NumberValue(float64(handle))
}

func dbExecNative(vm *VM, argCount int, args []Value) Value {
	conn, ok := vm.lookupDB(args[0])
	if !ok {
		return ErrorValue()
	}
	statement, ok := asString(args[1])
	if !ok {
		vm.RuntimeError("SQL statement must be a string.")
		return ErrorValue()
	}

	result, err := conn.db.Exec(statement.Chars)
	if err != nil {
		vm.RuntimeError("Database error: %v.", err)
		return ErrorValue()
	}
	affected, err := result.RowsAffected()
	if err != nil {
		affected = 0
	}
	return NumberValue(float64(affected))
}

func dbQueryNative(vm *VM, argCount int, args []Value) Value {
	conn, ok := vm.lookupDB(args[0])
	if !ok {
		return ErrorValue()
	}
	query, ok := asString(args[1])
	if !ok {
		vm.RuntimeError("SQL statement must be a string.")
		return ErrorValue()
	}

	rows, err := conn.db.Query(query.Chars)
	if err != nil {
		vm.RuntimeError("Database error: %v.", err)
		return ErrorValue()
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		vm.RuntimeError("Database error: %v.", err)
		return ErrorValue()
	}

	result := vm.newList()
	vm.PushTempRoot(ObjValue(result))

	values := make([]interface{}, len(columns))
	scanArgs := make([]interface{}, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			vm.PopTempRoot()
			vm.RuntimeError("Database error: %v.", err)
			return ErrorValue()
		}

		row := vm.newMap()
		vm.PushTempRoot(ObjValue(row))
		for i, column := range columns {
			value := vm.sqlValue(values[i])
			vm.PushTempRoot(value)
			key := vm.internString(column)
			vm.mapSet(row, key, value)
			vm.PopTempRoot()
		}
		vm.listAppend(result, ObjValue(row))
		vm.PopTempRoot()
	}

	vm.PopTempRoot()
	if err := rows.Err(); err != nil {
		vm.RuntimeError("Database error: %v.", err)
		return ErrorValue()
	}
	return ObjValue(result)
}

// sqlValue converts a scanned database value into a Cmel value.
func (vm *VM) sqlValue(v interface{}) Value {
	switch val := v.(type) {
	case nil:
		return NilValue()
	case bool:
		return BoolValue(val)
	case int64:
		return NumberValue(float64(val))
	case float64:
		return NumberValue(val)
	case string:
		return ObjValue(vm.internString(val))
	case []byte:
		return ObjValue(vm.internString(string(val)))
	default:
		return ObjValue(vm.internString(fmt.Sprintf("%v", val)))
	}
}

func dbCloseNative(vm *VM, argCount int, args []Value) Value {
	if !args[0].IsNumber() {
		vm.RuntimeError("Database handle must be a number.")
		return ErrorValue()
	}
	handle := int(args[0].AsNumber())
	conn, ok := vm.dbHandles[handle]
	if !ok {
		vm.RuntimeError("Unknown database handle.")
		return ErrorValue()
	}
	conn.db.Close()
	delete(vm.dbHandles, handle)
	return NilValue()
}
