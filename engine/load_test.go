package engine

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/dox/filter"
	"github.com/hatlonely/dox/schema"
	"github.com/hatlonely/dox/store"
)

func seedBlog(ctx context.Context, t *testing.T, e *Engine) map[string]string {
	ids := seedUsers(ctx, t, e)

	posts, err := e.Insert("post").Values(
		store.Document{"title": "go-generics", "authorId": ids["alice"], "status": "published", "views": 100},
		store.Document{"title": "go-channels", "authorId": ids["alice"], "status": "draft", "views": 10},
		store.Document{"title": "sql-basics", "authorId": ids["bob"], "status": "published", "views": 50},
	).Execute(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ids["go-generics"] = posts.IDs[0]
	ids["go-channels"] = posts.IDs[1]
	ids["sql-basics"] = posts.IDs[2]

	tags, err := e.Insert("tag").Values(
		store.Document{"label": "golang"},
		store.Document{"label": "database"},
	).Execute(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ids["golang"] = tags.IDs[0]
	ids["database"] = tags.IDs[1]

	_, err = e.Insert("postTag").Values(
		store.Document{"postId": ids["go-generics"], "tagId": ids["golang"]},
		store.Document{"postId": ids["sql-basics"], "tagId": ids["golang"]},
		store.Document{"postId": ids["sql-basics"], "tagId": ids["database"]},
	).Execute(ctx)
	if err != nil {
		t.Fatal(err)
	}

	return ids
}

func TestLoadRelations(t *testing.T) {
	ctx := context.Background()

	Convey("测试关系加载", t, func() {
		e := newBlogEngine(t, schema.Defaults{DefaultLimit: 100})
		ids := seedBlog(ctx, t, e)

		Convey("one 关系挂单行", func() {
			doc, err := e.FindFirst("post").
				Where(&filter.TermQuery{Field: store.FieldID, Value: ids["go-generics"]}).
				With("author").
				Execute(ctx)
			So(err, ShouldBeNil)

			author, ok := doc["author"].(store.Document)
			So(ok, ShouldBeTrue)
			So(author["name"], ShouldEqual, "alice")
		})

		Convey("many 关系挂行列表", func() {
			doc, err := e.FindFirst("user").
				Where(&filter.TermQuery{Field: store.FieldID, Value: ids["alice"]}).
				With("posts").
				Execute(ctx)
			So(err, ShouldBeNil)

			posts, ok := doc["posts"].([]store.Document)
			So(ok, ShouldBeTrue)
			So(len(posts), ShouldEqual, 2)
		})

		Convey("嵌套过滤排序截断", func() {
			doc, err := e.FindFirst("user").
				Where(&filter.TermQuery{Field: store.FieldID, Value: ids["alice"]}).
				With("posts", &WithOptions{
					Where:   &filter.TermQuery{Field: "status", Value: "published"},
					OrderBy: []Order{Desc("views")},
					Limit:   1,
				}).
				Execute(ctx)
			So(err, ShouldBeNil)

			posts := doc["posts"].([]store.Document)
			So(len(posts), ShouldEqual, 1)
			So(posts[0]["title"], ShouldEqual, "go-generics")
		})

		Convey("嵌套排序截断不依赖索引顺序", func() {
			// by_author 索引内的行序与 views 无关
			doc, err := e.FindFirst("user").
				Where(&filter.TermQuery{Field: store.FieldID, Value: ids["alice"]}).
				With("posts", &WithOptions{
					OrderBy: []Order{Asc("views")},
					Limit:   1,
				}).
				Execute(ctx)
			So(err, ShouldBeNil)

			posts := doc["posts"].([]store.Document)
			So(len(posts), ShouldEqual, 1)
			So(posts[0]["title"], ShouldEqual, "go-channels")
		})

		Convey("嵌套加载", func() {
			doc, err := e.FindFirst("user").
				Where(&filter.TermQuery{Field: store.FieldID, Value: ids["bob"]}).
				With("posts", &WithOptions{
					With: map[string]*WithOptions{"author": {}},
				}).
				Execute(ctx)
			So(err, ShouldBeNil)

			posts := doc["posts"].([]store.Document)
			So(len(posts), ShouldEqual, 1)
			author := posts[0]["author"].(store.Document)
			So(author["name"], ShouldEqual, "bob")
		})

		Convey("多对多关系经中间表加载", func() {
			doc, err := e.FindFirst("post").
				Where(&filter.TermQuery{Field: store.FieldID, Value: ids["sql-basics"]}).
				With("tags").
				Execute(ctx)
			So(err, ShouldBeNil)

			tags := doc["tags"].([]store.Document)
			So(len(tags), ShouldEqual, 2)

			Convey("反方向同样可加载", func() {
				tag, err := e.FindFirst("tag").
					Where(&filter.TermQuery{Field: store.FieldID, Value: ids["golang"]}).
					With("posts").
					Execute(ctx)
				So(err, ShouldBeNil)

				posts := tag["posts"].([]store.Document)
				So(len(posts), ShouldEqual, 2)
			})
		})

		Convey("连接列为空时关系为空", func() {
			// draft 文章没有任何标签
			doc, err := e.FindFirst("post").
				Where(&filter.TermQuery{Field: store.FieldID, Value: ids["go-channels"]}).
				With("tags").
				Execute(ctx)
			So(err, ShouldBeNil)
			So(doc["tags"].([]store.Document), ShouldBeEmpty)
		})

		Convey("未声明的关系报错", func() {
			_, err := e.FindFirst("post").
				Where(&filter.TermQuery{Field: store.FieldID, Value: ids["go-generics"]}).
				With("ghost").
				Execute(ctx)
			So(err, ShouldNotBeNil)
		})
	})
}
