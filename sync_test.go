package relx

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/relx/command"
	"github.com/hatlonely/relx/driver"
	"github.com/hatlonely/relx/schema"
)

func TestSynchronizer(t *testing.T) {
	Convey("TestSynchronizer", t, func() {
		ctx := context.Background()

		registry, err := NewRegistryWithOptions(nil)
		So(err, ShouldBeNil)
		users := registry.AddTable(&TableOptions{
			Name:    "users",
			Indexes: map[string][]string{"nameAge": {"name", "age"}},
			Schema: func(r *Registry) map[string]*schema.FieldSpec {
				return map[string]*schema.FieldSpec{
					"name":  {Type: schema.FieldTypeString, Required: true, Index: true},
					"email": {Type: schema.FieldTypeString, Index: true, Unique: true},
					"age":   {Type: schema.FieldTypeInt},
				}
			},
		})
		So(registry.Resolve(), ShouldBeNil)

		memory := driver.NewMemory()
		executor, err := command.NewExecutorWithOptions(&command.ExecutorOptions{Driver: memory})
		So(err, ShouldBeNil)

		Convey("sync materializes the table with simple and compound indexes", func() {
			So(users.Sync(ctx, executor), ShouldBeNil)

			So(memory.TableNames(), ShouldContain, "users")
			indexes := memory.Indexes("users")
			So(indexes["name"].Fields, ShouldResemble, []string{"name"})
			So(indexes["name"].Unique, ShouldBeFalse)
			So(indexes["email"].Unique, ShouldBeTrue)
			So(indexes["nameAge"].Fields, ShouldResemble, []string{"name", "age"})
			// 无索引标记的字段不建索引
			_, ok := indexes["age"]
			So(ok, ShouldBeFalse)
		})

		Convey("sync is idempotent", func() {
			So(users.Sync(ctx, executor), ShouldBeNil)
			first := memory.Indexes("users")

			So(users.Sync(ctx, executor), ShouldBeNil)
			So(memory.Indexes("users"), ShouldResemble, first)
			So(memory.TableNames(), ShouldResemble, []string{"users"})
		})

		Convey("unique index constraint surfaces on execution, not at sync", func() {
			So(users.Sync(ctx, executor), ShouldBeNil)

			first, err := users.Create(driver.Record{"name": "alice", "email": "a@x.io"})
			So(err, ShouldBeNil)
			So(executor.Exec(ctx, users.Insert(first)), ShouldBeNil)

			second, err := users.Create(driver.Record{"name": "bob", "email": "a@x.io"})
			So(err, ShouldBeNil)
			err = executor.Exec(ctx, users.Insert(second))
			So(err, ShouldNotBeNil)
			So(errors.Is(err, driver.ErrDuplicateKey), ShouldBeTrue)
		})

		Convey("synchronizer requires an executor", func() {
			_, err := NewSynchronizerWithOptions(nil)
			So(err, ShouldNotBeNil)
			_, err = NewSynchronizerWithOptions(&SynchronizerOptions{})
			So(err, ShouldNotBeNil)
		})
	})
}
