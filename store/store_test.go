package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hatlonely/gox/ref"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

// 三个后端共用同一组契约用例
//
// goconvey 对每个叶子用例重跑外层闭包，后端必须在闭包内新建，保证用例之间
// 互不污染

func backendMakers(t *testing.T) map[string]func() Accessor {
	return map[string]func() Accessor{
		"MemoryStore": func() Accessor {
			return NewMemoryStore()
		},
		"BoltDBStore": func() Accessor {
			accessor, err := NewBoltDBStoreWithOptions(&BoltDBStoreOptions{
				DBPath: filepath.Join(t.TempDir(), "test.bolt"),
				NoSync: true,
			})
			if err != nil {
				t.Fatal(err)
			}
			return accessor
		},
		"PebbleStore": func() Accessor {
			accessor, err := NewPebbleStoreWithOptions(&PebbleStoreOptions{
				DBPath:         filepath.Join(t.TempDir(), "pebble"),
				SetWithoutSync: true,
			})
			if err != nil {
				t.Fatal(err)
			}
			return accessor
		},
	}
}

func defineUserTable(accessor Accessor) error {
	return accessor.DefineTable("user", []Index{
		{Name: "by_name", Fields: []string{"name"}},
		{Name: "by_city_age", Fields: []string{"city", "age"}},
	})
}

func TestAccessorCRUD(t *testing.T) {
	ctx := context.Background()
	for name, mk := range backendMakers(t) {
		Convey("测试 "+name+" 基本读写", t, func() {
			accessor := mk()
			defer accessor.Close()
			So(defineUserTable(accessor), ShouldBeNil)

			Convey("插入后按标识读取", func() {
				id, err := accessor.Insert(ctx, "user", Document{"name": "alice", "city": "sh", "age": int64(30)})
				So(err, ShouldBeNil)
				So(id, ShouldNotBeEmpty)

				doc, err := accessor.Get(ctx, id)
				So(err, ShouldBeNil)
				So(doc["name"], ShouldEqual, "alice")
				So(doc[FieldID], ShouldEqual, id)
				So(doc[FieldCreationTime], ShouldNotBeNil)

				Convey("局部更新", func() {
					So(accessor.Patch(ctx, id, map[string]any{"age": int64(31)}), ShouldBeNil)
					doc, err := accessor.Get(ctx, id)
					So(err, ShouldBeNil)
					So(doc["age"], ShouldEqual, int64(31))
				})

				Convey("移除字段", func() {
					So(accessor.Patch(ctx, id, map[string]any{"city": DeleteField}), ShouldBeNil)
					doc, err := accessor.Get(ctx, id)
					So(err, ShouldBeNil)
					_, ok := doc["city"]
					So(ok, ShouldBeFalse)
				})

				Convey("系统字段只读", func() {
					err := accessor.Patch(ctx, id, map[string]any{FieldID: "other"})
					So(errors.Is(err, ErrReadOnlyField), ShouldBeTrue)
				})

				Convey("删除后读取报错", func() {
					So(accessor.Delete(ctx, id), ShouldBeNil)
					_, err := accessor.Get(ctx, id)
					So(errors.Is(err, ErrDocumentNotFound), ShouldBeTrue)
					So(errors.Is(accessor.Delete(ctx, id), ErrDocumentNotFound), ShouldBeTrue)
				})
			})

			Convey("未知表插入报错", func() {
				_, err := accessor.Insert(ctx, "ghost", Document{"name": "x"})
				So(errors.Is(err, ErrTableNotFound), ShouldBeTrue)
			})

			Convey("未知标识读取报错", func() {
				_, err := accessor.Get(ctx, "no-such-id")
				So(errors.Is(err, ErrDocumentNotFound), ShouldBeTrue)
			})
		})
	}
}

func TestAccessorQueryIndex(t *testing.T) {
	ctx := context.Background()
	for name, mk := range backendMakers(t) {
		Convey("测试 "+name+" 索引扫描", t, func() {
			accessor := mk()
			defer accessor.Close()
			So(defineUserTable(accessor), ShouldBeNil)

			rows := []Document{
				{"name": "alice", "city": "bj", "age": int64(25)},
				{"name": "bob", "city": "bj", "age": int64(30)},
				{"name": "carol", "city": "bj", "age": int64(35)},
				{"name": "dave", "city": "sh", "age": int64(28)},
			}
			for _, row := range rows {
				_, err := accessor.Insert(ctx, "user", row)
				So(err, ShouldBeNil)
			}

			Convey("等值前缀扫描", func() {
				page, err := accessor.QueryIndex(ctx, &IndexQuery{
					Table: "user", Index: "by_city_age", EqualityPrefix: []any{"bj"},
				})
				So(err, ShouldBeNil)
				So(page.IsDone, ShouldBeTrue)
				So(names(page.Docs), ShouldResemble, []string{"alice", "bob", "carol"})
			})

			Convey("范围扫描", func() {
				page, err := accessor.QueryIndex(ctx, &IndexQuery{
					Table: "user", Index: "by_city_age", EqualityPrefix: []any{"bj"},
					Range: &RangeClause{Field: "age", Gte: int64(26), Lt: int64(35)},
				})
				So(err, ShouldBeNil)
				So(names(page.Docs), ShouldResemble, []string{"bob"})
			})

			Convey("倒序扫描", func() {
				page, err := accessor.QueryIndex(ctx, &IndexQuery{
					Table: "user", Index: "by_city_age", EqualityPrefix: []any{"bj"}, Order: OrderDesc,
				})
				So(err, ShouldBeNil)
				So(names(page.Docs), ShouldResemble, []string{"carol", "bob", "alice"})
			})

			Convey("游标分页", func() {
				var got []string
				cursor := ""
				for {
					page, err := accessor.QueryIndex(ctx, &IndexQuery{
						Table: "user", Index: "by_name", Cursor: cursor, Limit: 2,
					})
					So(err, ShouldBeNil)
					got = append(got, names(page.Docs)...)
					if page.IsDone {
						break
					}
					cursor = page.Cursor
				}
				So(got, ShouldResemble, []string{"alice", "bob", "carol", "dave"})
			})

			Convey("倒序游标分页", func() {
				var got []string
				cursor := ""
				for {
					page, err := accessor.QueryIndex(ctx, &IndexQuery{
						Table: "user", Index: "by_name", Order: OrderDesc, Cursor: cursor, Limit: 3,
					})
					So(err, ShouldBeNil)
					got = append(got, names(page.Docs)...)
					if page.IsDone {
						break
					}
					cursor = page.Cursor
				}
				So(got, ShouldResemble, []string{"dave", "carol", "bob", "alice"})
			})

			Convey("隐含创建时间索引按插入顺序扫描", func() {
				page, err := accessor.QueryIndex(ctx, &IndexQuery{
					Table: "user", Index: CreationTimeIndex,
				})
				So(err, ShouldBeNil)
				So(names(page.Docs), ShouldResemble, []string{"alice", "bob", "carol", "dave"})
			})

			Convey("更新同步维护索引", func() {
				page, err := accessor.QueryIndex(ctx, &IndexQuery{
					Table: "user", Index: "by_city_age", EqualityPrefix: []any{"sh"},
				})
				So(err, ShouldBeNil)
				So(len(page.Docs), ShouldEqual, 1)
				id := page.Docs[0][FieldID].(string)

				So(accessor.Patch(ctx, id, map[string]any{"city": "bj"}), ShouldBeNil)

				page, err = accessor.QueryIndex(ctx, &IndexQuery{
					Table: "user", Index: "by_city_age", EqualityPrefix: []any{"sh"},
				})
				So(err, ShouldBeNil)
				So(page.Docs, ShouldBeEmpty)

				page, err = accessor.QueryIndex(ctx, &IndexQuery{
					Table: "user", Index: "by_city_age", EqualityPrefix: []any{"bj"},
				})
				So(err, ShouldBeNil)
				So(len(page.Docs), ShouldEqual, 4)
			})

			Convey("未知索引报错", func() {
				_, err := accessor.QueryIndex(ctx, &IndexQuery{Table: "user", Index: "by_ghost"})
				So(errors.Is(err, ErrIndexNotFound), ShouldBeTrue)
			})

			Convey("非法游标报错", func() {
				_, err := accessor.QueryIndex(ctx, &IndexQuery{
					Table: "user", Index: "by_name", Cursor: "!!!bad!!!",
				})
				So(errors.Is(err, ErrInvalidCursor), ShouldBeTrue)
			})
		})
	}
}

func names(docs []Document) []string {
	var out []string
	for _, doc := range docs {
		out = append(out, doc["name"].(string))
	}
	return out
}

func TestCreationTimeMonotonic(t *testing.T) {
	ctx := context.Background()
	Convey("测试创建时间单调递增", t, func() {
		accessor := NewMemoryStore()
		So(accessor.DefineTable("event", nil), ShouldBeNil)

		var last int64
		for i := 0; i < 100; i++ {
			id, err := accessor.Insert(ctx, "event", Document{"seq": int64(i)})
			So(err, ShouldBeNil)
			doc, err := accessor.Get(ctx, id)
			So(err, ShouldBeNil)
			ct := doc[FieldCreationTime].(int64)
			So(ct, ShouldBeGreaterThan, last)
			last = ct
		}
	})
}

func TestBoltDBStoreReopen(t *testing.T) {
	ctx := context.Background()
	Convey("测试 BoltDBStore 重新打开后数据可见", t, func() {
		path := filepath.Join(t.TempDir(), "reopen.bolt")

		accessor, err := NewBoltDBStoreWithOptions(&BoltDBStoreOptions{DBPath: path})
		So(err, ShouldBeNil)
		So(defineUserTable(accessor), ShouldBeNil)
		id, err := accessor.Insert(ctx, "user", Document{"name": "alice", "city": "sh", "age": int64(30)})
		So(err, ShouldBeNil)
		So(accessor.Close(), ShouldBeNil)

		reopened, err := NewBoltDBStoreWithOptions(&BoltDBStoreOptions{DBPath: path})
		So(err, ShouldBeNil)
		defer reopened.Close()
		// 表定义幂等，重复声明不报错
		So(defineUserTable(reopened), ShouldBeNil)

		doc, err := reopened.Get(ctx, id)
		So(err, ShouldBeNil)
		So(doc["name"], ShouldEqual, "alice")

		page, err := reopened.QueryIndex(ctx, &IndexQuery{
			Table: "user", Index: "by_name", EqualityPrefix: []any{"alice"},
		})
		So(err, ShouldBeNil)
		So(len(page.Docs), ShouldEqual, 1)
	})
}

func TestNewAccessorWithOptions(t *testing.T) {
	ctx := context.Background()

	typeOptions := map[string]func() *ref.TypeOptions{
		"MemoryStore": func() *ref.TypeOptions {
			return &ref.TypeOptions{
				Namespace: "github.com/hatlonely/dox/store",
				Type:      "MemoryStore",
			}
		},
		"BoltDBStore": func() *ref.TypeOptions {
			return &ref.TypeOptions{
				Namespace: "github.com/hatlonely/dox/store",
				Type:      "BoltDBStore",
				Options: &BoltDBStoreOptions{
					DBPath: filepath.Join(t.TempDir(), "test.bolt"),
					NoSync: true,
				},
			}
		},
		"PebbleStore": func() *ref.TypeOptions {
			return &ref.TypeOptions{
				Namespace: "github.com/hatlonely/dox/store",
				Type:      "PebbleStore",
				Options: &PebbleStoreOptions{
					DBPath:         filepath.Join(t.TempDir(), "pebble"),
					SetWithoutSync: true,
				},
			}
		},
	}

	for name, mk := range typeOptions {
		Convey("测试类型选项构造 "+name, t, func() {
			accessor, err := NewAccessorWithOptions(mk())
			So(err, ShouldBeNil)
			defer accessor.Close()

			So(defineUserTable(accessor), ShouldBeNil)
			id, err := accessor.Insert(ctx, "user", Document{"name": "alice", "city": "sh", "age": int64(30)})
			So(err, ShouldBeNil)

			doc, err := accessor.Get(ctx, id)
			So(err, ShouldBeNil)
			So(doc["name"], ShouldEqual, "alice")
		})
	}

	Convey("未注册的类型报错", t, func() {
		_, err := NewAccessorWithOptions(&ref.TypeOptions{
			Namespace: "github.com/hatlonely/dox/store",
			Type:      "GhostStore",
		})
		So(err, ShouldNotBeNil)
	})
}
