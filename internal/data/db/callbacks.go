package db

import (
	"reflect"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

var uuidType = reflect.TypeOf(uuid.UUID{})

// RegisterCallbacks installs a create hook that fills zero uuid primary keys,
// so models never depend on a database-side uuid default.
func RegisterCallbacks(db *gorm.DB) error {
	return db.Callback().Create().Before("gorm:create").Register("mes:assign_uuid", assignUUID)
}

func assignUUID(tx *gorm.DB) {
	st := tx.Statement
	if st.Schema == nil {
		return
	}
	field := st.Schema.PrioritizedPrimaryField
	if field == nil || field.FieldType != uuidType {
		return
	}
	rv := st.ReflectValue
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			setZeroUUID(tx, field, rv.Index(i))
		}
	case reflect.Struct:
		setZeroUUID(tx, field, rv)
	}
}

func setZeroUUID(tx *gorm.DB, field *schema.Field, v reflect.Value) {
	if reflect.Indirect(v).Kind() != reflect.Struct {
		return
	}
	if _, zero := field.ValueOf(tx.Statement.Context, v); zero {
		if err := field.Set(tx.Statement.Context, v, uuid.New()); err != nil {
			_ = tx.AddError(err)
		}
	}
}
