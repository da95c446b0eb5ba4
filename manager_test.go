package relx

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/relx/driver"
)

func TestRelationManagerHasOne(t *testing.T) {
	Convey("TestRelationManagerHasOne", t, func() {
		ctx := context.Background()
		f := newFixture(t)

		aliceID := f.seed(f.users, driver.Record{"name": "alice"})
		profileID := f.seed(f.profiles, driver.Record{"bio": "hi"})

		Convey("createRelation sets the foreign key on the related row", func() {
			f.run(f.users.CreateRelation("profile", aliceID, profileID))

			cmd, err := f.users.GetRelated("profile", aliceID)
			So(err, ShouldBeNil)
			row, err := f.executor.Row(ctx, cmd)
			So(err, ShouldBeNil)
			So(row["bio"], ShouldEqual, "hi")

			cmd, err = f.users.HasRelation("profile", aliceID, profileID)
			So(err, ShouldBeNil)
			ok, err := f.executor.Bool(ctx, cmd)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
		})

		Convey("removeRelation clears the foreign key", func() {
			f.run(f.users.CreateRelation("profile", aliceID, profileID))
			f.run(f.users.RemoveRelation("profile", aliceID, profileID))

			cmd, err := f.users.GetRelated("profile", aliceID)
			So(err, ShouldBeNil)
			row, err := f.executor.Row(ctx, cmd)
			So(err, ShouldBeNil)
			So(row, ShouldBeNil)

			cmd, err = f.users.HasRelation("profile", aliceID, profileID)
			So(err, ShouldBeNil)
			ok, err := f.executor.Bool(ctx, cmd)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("getRelated yields null before any relation exists", func() {
			cmd, err := f.users.GetRelated("profile", aliceID)
			So(err, ShouldBeNil)
			row, err := f.executor.Row(ctx, cmd)
			So(err, ShouldBeNil)
			So(row, ShouldBeNil)
		})
	})
}

func TestRelationManagerBelongsTo(t *testing.T) {
	Convey("TestRelationManagerBelongsTo", t, func() {
		ctx := context.Background()
		f := newFixture(t)

		aliceID := f.seed(f.users, driver.Record{"name": "alice"})
		postID := f.seed(f.posts, driver.Record{"title": "draft"})

		Convey("createRelation sets the foreign key on the owner row", func() {
			f.run(f.posts.CreateRelation("author", postID, aliceID))

			cmd, err := f.posts.GetRelated("author", postID)
			So(err, ShouldBeNil)
			row, err := f.executor.Row(ctx, cmd)
			So(err, ShouldBeNil)
			So(row["name"], ShouldEqual, "alice")

			cmd, err = f.posts.HasRelation("author", postID, aliceID)
			So(err, ShouldBeNil)
			ok, err := f.executor.Bool(ctx, cmd)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
		})

		Convey("createRelation rejects multiple related ids", func() {
			_, err := f.posts.CreateRelation("author", postID, aliceID, "other")
			So(err, ShouldNotBeNil)
			relationErr, ok := err.(*RelationError)
			So(ok, ShouldBeTrue)
			So(relationErr.Reason, ShouldContainSubstring, "exactly one")
		})

		Convey("removeRelation clears the owner's foreign key", func() {
			f.run(f.posts.CreateRelation("author", postID, aliceID))
			f.run(f.posts.RemoveRelation("author", postID))

			cmd, err := f.posts.GetRelated("author", postID)
			So(err, ShouldBeNil)
			row, err := f.executor.Row(ctx, cmd)
			So(err, ShouldBeNil)
			So(row, ShouldBeNil)
		})
	})
}

func TestRelationManagerHasMany(t *testing.T) {
	Convey("TestRelationManagerHasMany", t, func() {
		ctx := context.Background()
		f := newFixture(t)

		aliceID := f.seed(f.users, driver.Record{"name": "alice"})
		p1 := f.seed(f.posts, driver.Record{"title": "one"})
		p2 := f.seed(f.posts, driver.Record{"title": "two"})
		p3 := f.seed(f.posts, driver.Record{"title": "three"})

		Convey("getRelated is an empty sequence before any relation exists", func() {
			cmd, err := f.users.GetRelated("posts", aliceID)
			So(err, ShouldBeNil)
			rows, err := f.executor.Rows(ctx, cmd)
			So(err, ShouldBeNil)
			So(rows, ShouldNotBeNil)
			So(len(rows), ShouldEqual, 0)
		})

		Convey("createRelation with several ids links exactly those rows", func() {
			f.run(f.users.CreateRelation("posts", aliceID, p1, p2))

			cmd, err := f.users.GetRelated("posts", aliceID)
			So(err, ShouldBeNil)
			rows, err := f.executor.Rows(ctx, cmd)
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 2)

			cmd, err = f.users.HasRelation("posts", aliceID, p3)
			So(err, ShouldBeNil)
			ok, err := f.executor.Bool(ctx, cmd)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("removeRelation with a subset unlinks only that subset", func() {
			f.run(f.users.CreateRelation("posts", aliceID, p1, p2, p3))
			f.run(f.users.RemoveRelation("posts", aliceID, p2))

			cmd, err := f.users.GetRelated("posts", aliceID)
			So(err, ShouldBeNil)
			rows, err := f.executor.Rows(ctx, cmd)
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 2)
			So(rows[0]["title"], ShouldEqual, "one")
			So(rows[1]["title"], ShouldEqual, "three")
		})

		Convey("unknown relation name fails with RelationError", func() {
			_, err := f.users.CreateRelation("likes", aliceID, p1)
			So(err, ShouldNotBeNil)
			relationErr, ok := err.(*RelationError)
			So(ok, ShouldBeTrue)
			So(relationErr.Relation, ShouldEqual, "likes")
		})
	})
}

func TestRelationManagerBelongsToMany(t *testing.T) {
	Convey("TestRelationManagerBelongsToMany", t, func() {
		ctx := context.Background()
		f := newFixture(t)

		postID := f.seed(f.posts, driver.Record{"title": "intro"})
		goTagID := f.seed(f.tags, driver.Record{"name": "go"})
		dbTagID := f.seed(f.tags, driver.Record{"name": "db"})
		webTagID := f.seed(f.tags, driver.Record{"name": "web"})

		Convey("createRelation inserts validated junction rows", func() {
			f.run(f.posts.CreateRelation("tags", postID, goTagID, dbTagID))

			cmd, err := f.posts.GetRelated("tags", postID)
			So(err, ShouldBeNil)
			rows, err := f.executor.Rows(ctx, cmd)
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 2)

			// 中间表记录与普通记录一样带主键和时间戳
			junctionRows, err := f.executor.Rows(ctx, f.postTags.Query())
			So(err, ShouldBeNil)
			So(len(junctionRows), ShouldEqual, 2)
			So(junctionRows[0]["id"], ShouldNotBeEmpty)
			So(junctionRows[0]["createdAt"], ShouldNotBeNil)
		})

		Convey("hasRelation checks one junction pair", func() {
			f.run(f.posts.CreateRelation("tags", postID, goTagID))

			cmd, err := f.posts.HasRelation("tags", postID, goTagID)
			So(err, ShouldBeNil)
			ok, err := f.executor.Bool(ctx, cmd)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			cmd, err = f.posts.HasRelation("tags", postID, webTagID)
			So(err, ShouldBeNil)
			ok, err = f.executor.Bool(ctx, cmd)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("removeRelation deletes only the named pairs", func() {
			f.run(f.posts.CreateRelation("tags", postID, goTagID, dbTagID, webTagID))
			f.run(f.posts.RemoveRelation("tags", postID, dbTagID))

			cmd, err := f.posts.GetRelated("tags", postID)
			So(err, ShouldBeNil)
			rows, err := f.executor.Rows(ctx, cmd)
			So(err, ShouldBeNil)
			So(len(rows), ShouldEqual, 2)
			So(rows[0]["name"], ShouldEqual, "go")
			So(rows[1]["name"], ShouldEqual, "web")
		})

		Convey("getRelated is an empty sequence when nothing is linked", func() {
			cmd, err := f.posts.GetRelated("tags", postID)
			So(err, ShouldBeNil)
			rows, err := f.executor.Rows(ctx, cmd)
			So(err, ShouldBeNil)
			So(rows, ShouldNotBeNil)
			So(len(rows), ShouldEqual, 0)
		})

		Convey("junction rows missing a foreign key fail at build time", func() {
			_, err := f.posts.CreateRelation("tags", nil, goTagID)
			So(err, ShouldNotBeNil)
			validationErr, ok := err.(*ValidationError)
			So(ok, ShouldBeTrue)
			So(validationErr.Table, ShouldEqual, "postTags")
		})
	})
}

func TestRelationManagerSelfReference(t *testing.T) {
	Convey("TestRelationManagerSelfReference", t, func() {
		ctx := context.Background()
		f := newFixture(t)

		aliceID := f.seed(f.users, driver.Record{"name": "alice"})
		bobID := f.seed(f.users, driver.Record{"name": "bob"})

		f.run(f.users.CreateRelation("following", aliceID, bobID))

		has := func(name string, ownerID, relatedID any) bool {
			cmd, err := f.users.HasRelation(name, ownerID, relatedID)
			So(err, ShouldBeNil)
			ok, err := f.executor.Bool(ctx, cmd)
			So(err, ShouldBeNil)
			return ok
		}

		Convey("both directions are visible through their own relation", func() {
			So(has("following", aliceID, bobID), ShouldBeTrue)
			So(has("followers", bobID, aliceID), ShouldBeTrue)
		})

		Convey("the reverse directions stay false", func() {
			So(has("following", bobID, aliceID), ShouldBeFalse)
			So(has("followers", aliceID, bobID), ShouldBeFalse)
		})

		Convey("joins resolve each direction independently", func() {
			cmd, err := f.users.WithJoin(f.users.Get(aliceID), JoinRequest{"following": true, "followers": true})
			So(err, ShouldBeNil)
			row, err := f.executor.Row(ctx, cmd)
			So(err, ShouldBeNil)
			following := row["following"].([]driver.Record)
			So(len(following), ShouldEqual, 1)
			So(following[0]["name"], ShouldEqual, "bob")
			So(len(row["followers"].([]driver.Record)), ShouldEqual, 0)
		})

		Convey("removeRelation only touches one direction", func() {
			f.run(f.users.CreateRelation("following", bobID, aliceID))
			f.run(f.users.RemoveRelation("following", aliceID, bobID))

			So(has("following", aliceID, bobID), ShouldBeFalse)
			So(has("following", bobID, aliceID), ShouldBeTrue)
		})
	})
}
