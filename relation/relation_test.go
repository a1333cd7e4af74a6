package relation

import (
	"testing"

	convey "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/dox/schema"
)

func blogSchema(t *testing.T) *schema.Schema {
	user, err := schema.NewTable("user", schema.Columns{
		"name":      schema.Text().NotNull(),
		"managerId": schema.ID("user"),
	})
	if err != nil {
		t.Fatal(err)
	}
	post, err := schema.NewTable("post", schema.Columns{
		"title":    schema.Text().NotNull(),
		"authorId": schema.ID("user").NotNull(),
	}, schema.WithIndex("by_author", "authorId"))
	if err != nil {
		t.Fatal(err)
	}
	tag, err := schema.NewTable("tag", schema.Columns{
		"label": schema.Text().NotNull(),
	})
	if err != nil {
		t.Fatal(err)
	}
	postTag, err := schema.NewTable("postTag", schema.Columns{
		"postId": schema.ID("post").NotNull(),
		"tagId":  schema.ID("tag").NotNull(),
	}, schema.WithIndex("by_post", "postId"), schema.WithIndex("by_tag", "tagId"))
	if err != nil {
		t.Fatal(err)
	}

	s, err := schema.NewSchemaWithOptions(&schema.Options{Tables: []*schema.Table{user, post, tag, postTag}})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestDefine(t *testing.T) {
	s := blogSchema(t)

	convey.Convey("测试 Define 方法", t, func() {
		convey.Convey("正常声明", func() {
			graph, err := Define(s, func(r *Builder) {
				r.One("post", "author", &EdgeOptions{
					From: Cols("post", "authorId"),
					To:   Cols("user", "_id"),
				})
				r.Many("user", "posts", &EdgeOptions{
					From: Cols("user", "_id"),
					To:   Cols("post", "authorId"),
				})
			})
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(graph.Edges()), convey.ShouldEqual, 2)

			author, ok := graph.Edge("post", "author")
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(author.Target, convey.ShouldEqual, "user")
			convey.So(author.Cardinality, convey.ShouldEqual, CardinalityOne)
			convey.So(author.SourceFields, convey.ShouldResemble, []string{"authorId"})
			convey.So(author.TargetFields, convey.ShouldResemble, []string{"_id"})
		})

		convey.Convey("相同声明重复抽取结果一致", func() {
			declare := func(r *Builder) {
				r.One("post", "author", &EdgeOptions{
					From: Cols("post", "authorId"),
					To:   Cols("user", "_id"),
				})
				r.Many("user", "posts", &EdgeOptions{
					From: Cols("user", "_id"),
					To:   Cols("post", "authorId"),
				})
			}
			first, err := Define(s, declare)
			convey.So(err, convey.ShouldBeNil)
			second, err := Define(s, declare)
			convey.So(err, convey.ShouldBeNil)
			convey.So(second.Edges(), convey.ShouldResemble, first.Edges())
		})

		convey.Convey("关系名与列名冲突报错", func() {
			_, err := Define(s, func(r *Builder) {
				r.One("post", "authorId", &EdgeOptions{
					From: Cols("post", "authorId"),
					To:   Cols("user", "_id"),
				})
			})
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("同表重复关系名报错", func() {
			_, err := Define(s, func(r *Builder) {
				r.One("post", "author", &EdgeOptions{
					From: Cols("post", "authorId"), To: Cols("user", "_id"),
				})
				r.One("post", "author", &EdgeOptions{
					From: Cols("post", "authorId"), To: Cols("user", "_id"),
				})
			})
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("列句柄不属于声明的表报错", func() {
			_, err := Define(s, func(r *Builder) {
				r.One("post", "author", &EdgeOptions{
					From: Cols("user", "_id"), // 应为 post 上的列
					To:   Cols("user", "_id"),
				})
			})
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("引用不存在的列报错", func() {
			_, err := Define(s, func(r *Builder) {
				r.One("post", "author", &EdgeOptions{
					From: Cols("post", "ghostId"),
					To:   Cols("user", "_id"),
				})
			})
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("缺少 From/To 报错", func() {
			_, err := Define(s, func(r *Builder) {
				r.One("post", "author", &EdgeOptions{From: Cols("post", "authorId")})
			})
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestInversePairing(t *testing.T) {
	s := blogSchema(t)

	convey.Convey("测试反向边配对", t, func() {
		convey.Convey("字段镜像自动配对", func() {
			graph, err := Define(s, func(r *Builder) {
				r.One("post", "author", &EdgeOptions{
					From: Cols("post", "authorId"), To: Cols("user", "_id"),
				})
				r.Many("user", "posts", &EdgeOptions{
					From: Cols("user", "_id"), To: Cols("post", "authorId"),
				})
			})
			convey.So(err, convey.ShouldBeNil)

			author, _ := graph.Edge("post", "author")
			posts, _ := graph.Edge("user", "posts")
			convey.So(author.InverseEdge, convey.ShouldEqual, posts)
			convey.So(posts.InverseEdge, convey.ShouldEqual, author)
		})

		convey.Convey("无对端声明时不配对", func() {
			graph, err := Define(s, func(r *Builder) {
				r.One("post", "author", &EdgeOptions{
					From: Cols("post", "authorId"), To: Cols("user", "_id"),
				})
			})
			convey.So(err, convey.ShouldBeNil)

			author, _ := graph.Edge("post", "author")
			convey.So(author.InverseEdge, convey.ShouldBeNil)
		})

		convey.Convey("候选多于一个且无别名报错", func() {
			_, err := Define(s, func(r *Builder) {
				r.One("post", "author", &EdgeOptions{
					From: Cols("post", "authorId"), To: Cols("user", "_id"),
				})
				r.Many("user", "posts", &EdgeOptions{
					From: Cols("user", "_id"), To: Cols("post", "authorId"),
				})
				r.Many("user", "articles", &EdgeOptions{
					From: Cols("user", "_id"), To: Cols("post", "authorId"),
				})
			})
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("别名显式配对", func() {
			graph, err := Define(s, func(r *Builder) {
				r.One("post", "author", &EdgeOptions{
					From: Cols("post", "authorId"), To: Cols("user", "_id"), Alias: "authorship",
				})
				r.Many("user", "posts", &EdgeOptions{
					From: Cols("user", "_id"), To: Cols("post", "authorId"), Alias: "authorship",
				})
				r.Many("user", "articles", &EdgeOptions{
					From: Cols("user", "_id"), To: Cols("post", "authorId"),
				})
			})
			convey.So(err, convey.ShouldBeNil)

			author, _ := graph.Edge("post", "author")
			posts, _ := graph.Edge("user", "posts")
			articles, _ := graph.Edge("user", "articles")
			convey.So(author.InverseEdge, convey.ShouldEqual, posts)
			convey.So(articles.InverseEdge, convey.ShouldBeNil)
		})

		convey.Convey("同一别名超过两条报错", func() {
			_, err := Define(s, func(r *Builder) {
				r.One("post", "author", &EdgeOptions{
					From: Cols("post", "authorId"), To: Cols("user", "_id"), Alias: "x",
				})
				r.Many("user", "posts", &EdgeOptions{
					From: Cols("user", "_id"), To: Cols("post", "authorId"), Alias: "x",
				})
				r.Many("user", "articles", &EdgeOptions{
					From: Cols("user", "_id"), To: Cols("post", "authorId"), Alias: "x",
				})
			})
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("别名把同侧两条边配对报错", func() {
			_, err := Define(s, func(r *Builder) {
				r.Many("user", "posts", &EdgeOptions{
					From: Cols("user", "_id"), To: Cols("post", "authorId"), Alias: "x",
				})
				r.Many("user", "articles", &EdgeOptions{
					From: Cols("user", "_id"), To: Cols("post", "authorId"), Alias: "x",
				})
			})
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestThroughRelations(t *testing.T) {
	s := blogSchema(t)

	convey.Convey("测试多对多关系", t, func() {
		convey.Convey("正常声明并配对", func() {
			graph, err := Define(s, func(r *Builder) {
				r.Many("post", "tags", &EdgeOptions{
					From:        Cols("post", "_id"),
					To:          Cols("tag", "_id"),
					ThroughFrom: Cols("postTag", "postId"),
					ThroughTo:   Cols("postTag", "tagId"),
				})
				r.Many("tag", "posts", &EdgeOptions{
					From:        Cols("tag", "_id"),
					To:          Cols("post", "_id"),
					ThroughFrom: Cols("postTag", "tagId"),
					ThroughTo:   Cols("postTag", "postId"),
				})
			})
			convey.So(err, convey.ShouldBeNil)

			tags, ok := graph.Edge("post", "tags")
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(tags.Through, convey.ShouldEqual, "postTag")
			convey.So(tags.ThroughSourceFields, convey.ShouldResemble, []string{"postId"})
			convey.So(tags.ThroughTargetFields, convey.ShouldResemble, []string{"tagId"})

			posts, _ := graph.Edge("tag", "posts")
			convey.So(tags.InverseEdge, convey.ShouldEqual, posts)
		})

		convey.Convey("One 声明中间表报错", func() {
			_, err := Define(s, func(r *Builder) {
				r.One("post", "firstTag", &EdgeOptions{
					From:        Cols("post", "_id"),
					To:          Cols("tag", "_id"),
					ThroughFrom: Cols("postTag", "postId"),
					ThroughTo:   Cols("postTag", "tagId"),
				})
			})
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestRequiredOneCycles(t *testing.T) {
	convey.Convey("测试必选 one 关系环检测", t, func() {
		convey.Convey("非空外键成环报错", func() {
			a, err := schema.NewTable("a", schema.Columns{"bId": schema.ID("b").NotNull()})
			convey.So(err, convey.ShouldBeNil)
			b, err := schema.NewTable("b", schema.Columns{"aId": schema.ID("a").NotNull()})
			convey.So(err, convey.ShouldBeNil)
			s, err := schema.NewSchemaWithOptions(&schema.Options{Tables: []*schema.Table{a, b}})
			convey.So(err, convey.ShouldBeNil)

			_, err = Define(s, func(r *Builder) {
				r.One("a", "toB", &EdgeOptions{From: Cols("a", "bId"), To: Cols("b", "_id")})
				r.One("b", "toA", &EdgeOptions{From: Cols("b", "aId"), To: Cols("a", "_id")})
			})
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("可空外键在 null 处终止不报错", func() {
			a, err := schema.NewTable("a", schema.Columns{"bId": schema.ID("b").NotNull()})
			convey.So(err, convey.ShouldBeNil)
			b, err := schema.NewTable("b", schema.Columns{"aId": schema.ID("a")})
			convey.So(err, convey.ShouldBeNil)
			s, err := schema.NewSchemaWithOptions(&schema.Options{Tables: []*schema.Table{a, b}})
			convey.So(err, convey.ShouldBeNil)

			_, err = Define(s, func(r *Builder) {
				r.One("a", "toB", &EdgeOptions{From: Cols("a", "bId"), To: Cols("b", "_id")})
				r.One("b", "toA", &EdgeOptions{From: Cols("b", "aId"), To: Cols("a", "_id")})
			})
			convey.So(err, convey.ShouldBeNil)
		})

		convey.Convey("可空外键自引用合法", func() {
			s := blogSchema(t)
			_, err := Define(s, func(r *Builder) {
				r.One("user", "manager", &EdgeOptions{
					From: Cols("user", "managerId"), To: Cols("user", "_id"),
				})
			})
			convey.So(err, convey.ShouldBeNil)
		})

		convey.Convey("非空外键自引用成环报错", func() {
			a, err := schema.NewTable("a", schema.Columns{"parentId": schema.ID("a").NotNull()})
			convey.So(err, convey.ShouldBeNil)
			s, err := schema.NewSchemaWithOptions(&schema.Options{Tables: []*schema.Table{a}})
			convey.So(err, convey.ShouldBeNil)

			_, err = Define(s, func(r *Builder) {
				r.One("a", "parent", &EdgeOptions{From: Cols("a", "parentId"), To: Cols("a", "_id")})
			})
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}
