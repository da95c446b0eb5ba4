package relx

import (
	"context"
	"testing"

	"github.com/hatlonely/relx/command"
	"github.com/hatlonely/relx/driver"
	"github.com/hatlonely/relx/schema"
)

// fixture 博客领域的测试装置：
// users 1:1 profiles、1:N posts、经 follows 自引用多对多；
// posts N:1 users、1:N comments、经 postTags 与 tags 多对多。
type fixture struct {
	t        *testing.T
	registry *Registry
	executor *command.Executor
	memory   *driver.Memory

	users    *Table
	profiles *Table
	posts    *Table
	comments *Table
	tags     *Table
	postTags *Table
	follows  *Table
}

func newFixture(t *testing.T) *fixture {
	registry, err := NewRegistryWithOptions(nil)
	if err != nil {
		t.Fatal(err)
	}

	users := registry.AddTable(&TableOptions{
		Name: "users",
		Schema: func(r *Registry) map[string]*schema.FieldSpec {
			return map[string]*schema.FieldSpec{
				"name":  {Type: schema.FieldTypeString, Required: true},
				"email": {Type: schema.FieldTypeString, Rule: "omitempty,email", Index: true},
			}
		},
		Relations: func(r *Registry) map[string]*Relation {
			users := r.Table("users")
			posts := r.Table("posts")
			profiles := r.Table("profiles")
			follows := r.Table("follows")
			return map[string]*Relation{
				"posts":     HasMany(users.LinkedBy(posts, "authorId")),
				"profile":   HasOne(users.LinkedBy(profiles, "userId")),
				"following": BelongsToMany(users.LinkedBy(follows, "followerId"), follows.LinkTo(users, "followeeId"), "followerFollowee"),
				"followers": BelongsToMany(users.LinkedBy(follows, "followeeId"), follows.LinkTo(users, "followerId"), "followeeFollower"),
			}
		},
	})

	profiles := registry.AddTable(&TableOptions{
		Name: "profiles",
		Schema: func(r *Registry) map[string]*schema.FieldSpec {
			return map[string]*schema.FieldSpec{
				"bio":    {Type: schema.FieldTypeString},
				"userId": r.Table("users").ForeignKey(nil),
			}
		},
	})

	posts := registry.AddTable(&TableOptions{
		Name: "posts",
		Schema: func(r *Registry) map[string]*schema.FieldSpec {
			return map[string]*schema.FieldSpec{
				"title":    {Type: schema.FieldTypeString, Required: true},
				"authorId": r.Table("users").ForeignKey(nil),
			}
		},
		Relations: func(r *Registry) map[string]*Relation {
			users := r.Table("users")
			posts := r.Table("posts")
			comments := r.Table("comments")
			postTags := r.Table("postTags")
			tags := r.Table("tags")
			return map[string]*Relation{
				"author":   BelongsTo(posts.LinkTo(users, "authorId")),
				"comments": HasMany(posts.LinkedBy(comments, "postId")),
				"tags":     BelongsToMany(posts.LinkedBy(postTags, "postId"), postTags.LinkTo(tags, "tagId"), "postTag"),
			}
		},
	})

	comments := registry.AddTable(&TableOptions{
		Name: "comments",
		Schema: func(r *Registry) map[string]*schema.FieldSpec {
			return map[string]*schema.FieldSpec{
				"body":   {Type: schema.FieldTypeString, Required: true},
				"postId": r.Table("posts").ForeignKey(nil),
			}
		},
	})

	tags := registry.AddTable(&TableOptions{
		Name: "tags",
		Schema: func(r *Registry) map[string]*schema.FieldSpec {
			return map[string]*schema.FieldSpec{
				"name": {Type: schema.FieldTypeString, Required: true, Index: true, Unique: true},
			}
		},
		Relations: func(r *Registry) map[string]*Relation {
			posts := r.Table("posts")
			postTags := r.Table("postTags")
			tags := r.Table("tags")
			return map[string]*Relation{
				"posts": BelongsToMany(tags.LinkedBy(postTags, "tagId"), postTags.LinkTo(posts, "postId"), "tagPost"),
			}
		},
	})

	postTags := registry.AddTable(&TableOptions{
		Name: "postTags",
		Indexes: map[string][]string{
			"postTag": {"postId", "tagId"},
			"tagPost": {"tagId", "postId"},
		},
		Schema: func(r *Registry) map[string]*schema.FieldSpec {
			return map[string]*schema.FieldSpec{
				"postId": r.Table("posts").ForeignKey(&ForeignKeyOptions{ManyToMany: true}),
				"tagId":  r.Table("tags").ForeignKey(&ForeignKeyOptions{ManyToMany: true}),
			}
		},
	})

	follows := registry.AddTable(&TableOptions{
		Name: "follows",
		Indexes: map[string][]string{
			"followerFollowee": {"followerId", "followeeId"},
			"followeeFollower": {"followeeId", "followerId"},
		},
		Schema: func(r *Registry) map[string]*schema.FieldSpec {
			return map[string]*schema.FieldSpec{
				"followerId": r.Table("users").ForeignKey(&ForeignKeyOptions{ManyToMany: true}),
				"followeeId": r.Table("users").ForeignKey(&ForeignKeyOptions{ManyToMany: true}),
			}
		},
	})

	if err := registry.Resolve(); err != nil {
		t.Fatal(err)
	}

	memory := driver.NewMemory()
	executor, err := command.NewExecutorWithOptions(&command.ExecutorOptions{Driver: memory})
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		t:        t,
		registry: registry,
		executor: executor,
		memory:   memory,
		users:    users,
		profiles: profiles,
		posts:    posts,
		comments: comments,
		tags:     tags,
		postTags: postTags,
		follows:  follows,
	}

	ctx := context.Background()
	for _, table := range []*Table{users, profiles, posts, comments, tags, postTags, follows} {
		if err := table.Sync(ctx, executor); err != nil {
			t.Fatal(err)
		}
	}

	return f
}

// seed 创建一条记录并写入存储，返回生成的主键
func (f *fixture) seed(table *Table, partial driver.Record) any {
	f.t.Helper()
	record, err := table.Create(partial)
	if err != nil {
		f.t.Fatal(err)
	}
	if err := f.executor.Exec(context.Background(), table.Insert(record)); err != nil {
		f.t.Fatal(err)
	}
	return record[table.PrimaryKey()]
}

// run 执行一条关联命令并断言构建无误
func (f *fixture) run(cmd *command.Command, err error) {
	f.t.Helper()
	if err != nil {
		f.t.Fatal(err)
	}
	if err := f.executor.Exec(context.Background(), cmd); err != nil {
		f.t.Fatal(err)
	}
}
