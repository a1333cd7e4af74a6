package engine

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/dox/filter"
	"github.com/hatlonely/dox/schema"
	"github.com/hatlonely/dox/store"
)

func TestRowLevelSecurity(t *testing.T) {
	ctx := context.Background()

	Convey("测试行级安全", t, func() {
		e := newBlogEngine(t, schema.Defaults{DefaultLimit: 100})

		_, err := e.Insert("secret").Viewer("alice").Values(
			store.Document{"ownerId": "alice", "body": "alice-1"},
			store.Document{"ownerId": "alice", "body": "alice-2"},
		).Execute(ctx)
		So(err, ShouldBeNil)

		_, err = e.Insert("secret").Viewer("bob").Values(
			store.Document{"ownerId": "bob", "body": "bob-1"},
		).Execute(ctx)
		So(err, ShouldBeNil)

		Convey("查询只返回策略放行的行", func() {
			docs, err := e.FindMany("secret").
				Where(&filter.TermQuery{Field: "ownerId", Value: "alice"}).
				Viewer("alice").
				Execute(ctx)
			So(err, ShouldBeNil)
			So(len(docs), ShouldEqual, 2)

			docs, err = e.FindMany("secret").
				Where(&filter.TermQuery{Field: "ownerId", Value: "alice"}).
				Viewer("bob").
				Execute(ctx)
			So(err, ShouldBeNil)
			So(docs, ShouldBeEmpty)

			// 没有身份时所有行都不可见
			docs, err = e.FindMany("secret").
				Where(&filter.TermQuery{Field: "ownerId", Value: "alice"}).
				Execute(ctx)
			So(err, ShouldBeNil)
			So(docs, ShouldBeEmpty)
		})

		Convey("插入受策略约束", func() {
			_, err := e.Insert("secret").Viewer("bob").Values(
				store.Document{"ownerId": "alice", "body": "forged"},
			).Execute(ctx)
			So(errors.Is(err, ErrPolicyDenied), ShouldBeTrue)
		})

		Convey("更新受策略约束", func() {
			result, err := e.Update("secret").
				Set(Patch{"body": Set("updated")}).
				Where(&filter.TermQuery{Field: "ownerId", Value: "alice"}).
				Viewer("alice").
				Execute(ctx)
			So(err, ShouldBeNil)
			So(result.Count, ShouldEqual, 2)

			_, err = e.Update("secret").
				Set(Patch{"body": Set("hijacked")}).
				Where(&filter.TermQuery{Field: "ownerId", Value: "alice"}).
				Viewer("bob").
				Execute(ctx)
			So(errors.Is(err, ErrPolicyDenied), ShouldBeTrue)
		})

		Convey("未声明策略的操作默认拒绝", func() {
			// secret 表没有 delete 策略
			_, err := e.Delete("secret").
				Where(&filter.TermQuery{Field: "ownerId", Value: "alice"}).
				Viewer("alice").
				Execute(ctx)
			So(errors.Is(err, ErrPolicyDenied), ShouldBeTrue)
		})

		Convey("未开启行级安全的表不受影响", func() {
			seedUsers(ctx, t, e)
			docs, err := e.FindMany("user").
				Where(&filter.TermQuery{Field: "city", Value: "bj"}).
				Viewer("stranger").
				Execute(ctx)
			So(err, ShouldBeNil)
			So(len(docs), ShouldEqual, 2)
		})
	})
}
