package app_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/okian/ember/internal/adapters/index"
	"github.com/okian/ember/internal/adapters/rank"
	"github.com/okian/ember/internal/adapters/repository"
	"github.com/okian/ember/internal/app"
	"github.com/okian/ember/internal/domain/category"
	"github.com/okian/ember/internal/domain/dedupe"
	"github.com/okian/ember/internal/domain/model"
	"github.com/okian/ember/internal/domain/repair"
	"github.com/okian/ember/pkg/logger"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

type fixture struct {
	repo *repository.GormStore
	idx  *index.Store
	svc  *app.Service
}

func newFixture(t *testing.T, opts ...app.Option) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	idx, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	repo := repository.New(db)
	svc := app.NewService(repo, idx, rank.NewBoard(), opts...)
	return &fixture{repo: repo, idx: idx, svc: svc}
}

func (f *fixture) user(t *testing.T, nickname, mainMajor string) uuid.UUID {
	t.Helper()
	id, err := f.svc.CreateUser(context.Background(), repository.NewUser{
		Email:     nickname + "@example.com",
		Nickname:  nickname,
		Name:      nickname,
		MainMajor: mainMajor,
		SubMajor:  mainMajor + "-sub",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

func TestToggleScrap(t *testing.T) {
	Convey("Given a user and an indexed document", t, func() {
		f := newFixture(t)
		ctx := context.Background()
		userID := f.user(t, "alice", "engineering")
		So(f.idx.Put(ctx, category.Outside, index.Document{ID: "doc-1", ScrapCount: 5}), ShouldBeNil)

		Convey("When the user scraps the document", func() {
			scrapped, err := f.svc.ToggleScrap(ctx, userID, category.Outside, "doc-1")

			Convey("Then the document is owned and the counter moved up", func() {
				So(err, ShouldBeNil)
				So(scrapped, ShouldBeTrue)
				doc, err := f.idx.Get(ctx, category.Outside, "doc-1")
				So(err, ShouldBeNil)
				So(doc.ScrapCount, ShouldEqual, 6)
			})
		})

		Convey("When the user toggles twice", func() {
			_, err := f.svc.ToggleScrap(ctx, userID, category.Outside, "doc-1")
			So(err, ShouldBeNil)
			scrapped, err := f.svc.ToggleScrap(ctx, userID, category.Outside, "doc-1")

			Convey("Then ownership and counter are back at baseline", func() {
				So(err, ShouldBeNil)
				So(scrapped, ShouldBeFalse)
				doc, err := f.idx.Get(ctx, category.Outside, "doc-1")
				So(err, ShouldBeNil)
				So(doc.ScrapCount, ShouldEqual, 5)
			})
		})

		Convey("When the user toggles an odd number of times", func() {
			for i := 0; i < 3; i++ {
				_, err := f.svc.ToggleScrap(ctx, userID, category.Outside, "doc-1")
				So(err, ShouldBeNil)
			}

			Convey("Then the document is owned and the counter is baseline plus one", func() {
				ids, err := f.repo.ScrapIDs(ctx, userID, category.Outside)
				So(err, ShouldBeNil)
				So(ids, ShouldResemble, []string{"doc-1"})
				doc, err := f.idx.Get(ctx, category.Outside, "doc-1")
				So(err, ShouldBeNil)
				So(doc.ScrapCount, ShouldEqual, 6)
			})
		})

		Convey("When the document is not in the index", func() {
			scrapped, err := f.svc.ToggleScrap(ctx, userID, category.Outside, "ghost")

			Convey("Then the relational toggle still succeeds", func() {
				So(err, ShouldBeNil)
				So(scrapped, ShouldBeTrue)
			})
		})

		Convey("When the user does not exist", func() {
			_, err := f.svc.ToggleScrap(ctx, uuid.New(), category.Outside, "doc-1")

			Convey("Then nothing is written", func() {
				So(errors.Is(err, repository.ErrUserNotFound), ShouldBeTrue)
				doc, err := f.idx.Get(ctx, category.Outside, "doc-1")
				So(err, ShouldBeNil)
				So(doc.ScrapCount, ShouldEqual, 5)
			})
		})
	})
}

type failingIndex struct {
	inner app.Index
}

func (f *failingIndex) Apply(context.Context, index.CounterCmd) error {
	return errors.New("index unavailable")
}

func (f *failingIndex) Search(ctx context.Context, cat category.Category, ids []string, page int) ([]index.Document, error) {
	return f.inner.Search(ctx, cat, ids, page)
}

func (f *failingIndex) Count(ctx context.Context, cat category.Category, ids []string) (int, error) {
	return f.inner.Count(ctx, cat, ids)
}

type recordingQueue struct {
	tasks []repair.Task
}

func (q *recordingQueue) Enqueue(_ context.Context, t repair.Task) bool {
	q.tasks = append(q.tasks, t)
	return true
}

func TestToggleScrapIndexFailure(t *testing.T) {
	Convey("Given an index that rejects counter writes", t, func() {
		f := newFixture(t)
		ctx := context.Background()
		userID := f.user(t, "alice", "engineering")

		queue := &recordingQueue{}
		svc := app.NewService(f.repo, &failingIndex{inner: f.idx}, rank.NewBoard(),
			app.WithRepairQueue(queue),
			app.WithCoalescer(dedupe.NewInMemoryCoalescer()),
		)

		Convey("When the user toggles a document", func() {
			scrapped, err := svc.ToggleScrap(ctx, userID, category.Intern, "doc-1")

			Convey("Then the toggle succeeds and a repair task is queued", func() {
				So(err, ShouldBeNil)
				So(scrapped, ShouldBeTrue)
				So(queue.tasks, ShouldHaveLength, 1)
				So(queue.tasks[0].DocumentID, ShouldEqual, "doc-1")
			})

			Convey("And a second failure on the same document coalesces", func() {
				_, err := svc.ToggleScrap(ctx, userID, category.Intern, "doc-1")
				So(err, ShouldBeNil)
				So(queue.tasks, ShouldHaveLength, 1)
			})
		})
	})
}

func TestListScraps(t *testing.T) {
	Convey("Given a user with saved documents", t, func() {
		f := newFixture(t)
		ctx := context.Background()
		userID := f.user(t, "alice", "engineering")

		Convey("When the user owns nothing in the category", func() {
			res, err := f.svc.ListScraps(ctx, userID, category.Outside, 1, false)

			Convey("Then the result is Empty", func() {
				So(err, ShouldBeNil)
				So(res.Kind, ShouldEqual, app.KindEmpty)
			})
		})

		Convey("When every owned document is missing from the index", func() {
			_, err := f.svc.ToggleScrap(ctx, userID, category.Outside, "gone-1")
			So(err, ShouldBeNil)

			res, err := f.svc.ListScraps(ctx, userID, category.Outside, 1, false)

			Convey("Then the result is Empty rather than an empty page", func() {
				So(err, ShouldBeNil)
				So(res.Kind, ShouldEqual, app.KindEmpty)
				So(res.Items, ShouldBeEmpty)
			})
		})

		Convey("When counting owned documents", func() {
			for _, id := range []string{"a", "b", "c"} {
				_, err := f.svc.ToggleScrap(ctx, userID, category.Competition, id)
				So(err, ShouldBeNil)
			}
			// Only two of the three survive in the index.
			So(f.idx.Put(ctx, category.Competition, index.Document{ID: "a"}), ShouldBeNil)
			So(f.idx.Put(ctx, category.Competition, index.Document{ID: "b"}), ShouldBeNil)

			res, err := f.svc.ListScraps(ctx, userID, category.Competition, 0, true)

			Convey("Then the total counts index-resident documents only", func() {
				So(err, ShouldBeNil)
				So(res.Kind, ShouldEqual, app.KindCount)
				So(res.Total, ShouldEqual, 2)
			})
		})

		Convey("When listing a popularity-sorted category", func() {
			views := map[string]int64{"a": 5, "b": 50, "c": 20}
			for id, v := range views {
				So(f.idx.Put(ctx, category.Competition, index.Document{ID: id, View: v}), ShouldBeNil)
				_, err := f.svc.ToggleScrap(ctx, userID, category.Competition, id)
				So(err, ShouldBeNil)
			}

			res, err := f.svc.ListScraps(ctx, userID, category.Competition, 1, false)

			Convey("Then items come back by view descending", func() {
				So(err, ShouldBeNil)
				So(res.Kind, ShouldEqual, app.KindPage)
				So(res.Items, ShouldHaveLength, 3)
				So(res.Items[0].ID, ShouldEqual, "b")
				So(res.Items[1].ID, ShouldEqual, "c")
				So(res.Items[2].ID, ShouldEqual, "a")
			})
		})

		Convey("When listing language scraps", func() {
			base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
			docs := []index.Document{
				{ID: "l2", Test: "toeicspeaking", SortDate: base.Add(24 * time.Hour)},
				{ID: "l1", Test: "toeic", SortDate: base},
			}
			for _, doc := range docs {
				So(f.idx.Put(ctx, category.Language, doc), ShouldBeNil)
				_, err := f.svc.ToggleScrap(ctx, userID, category.Language, doc.ID)
				So(err, ShouldBeNil)
			}

			res, err := f.svc.ListScraps(ctx, userID, category.Language, 1, false)

			Convey("Then items are chronological with derived titles", func() {
				So(err, ShouldBeNil)
				So(res.Items, ShouldHaveLength, 2)
				So(res.Items[0].ID, ShouldEqual, "l1")
				So(res.Items[0].Title, ShouldEqual, "TOEIC")
				So(res.Items[0].Enterprise, ShouldEqual, "YBM")
				So(res.Items[1].Title, ShouldEqual, "TOEIC Speaking")
			})
		})

		Convey("When listing certification scraps", func() {
			svc := app.NewService(f.repo, f.idx, rank.NewBoard(),
				app.WithQnetImage("https://cdn.example.com/qnet.png"),
			)
			doc := index.Document{
				ID:   "q1",
				View: 9,
				ExamSchedules: []index.ExamSchedule{
					{Period: "2026-1", DDay: "2026-03-02"},
					{Period: "2026-2", DDay: "2026-06-01"},
				},
			}
			So(f.idx.Put(ctx, category.Certification, doc), ShouldBeNil)
			_, err := svc.ToggleScrap(ctx, userID, category.Certification, "q1")
			So(err, ShouldBeNil)

			res, err := svc.ListScraps(ctx, userID, category.Certification, 1, false)

			Convey("Then the first schedule is promoted and the image attached", func() {
				So(err, ShouldBeNil)
				So(res.Items, ShouldHaveLength, 1)
				So(res.Items[0].Period, ShouldEqual, "2026-1")
				So(res.Items[0].ExamDate, ShouldEqual, "2026-03-02")
				So(res.Items[0].MainImage, ShouldEqual, "https://cdn.example.com/qnet.png")
			})
		})

		Convey("When paging through language scraps", func() {
			base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			for i := 0; i < 10; i++ {
				id := fmt.Sprintf("doc-%02d", i)
				So(f.idx.Put(ctx, category.Language, index.Document{
					ID:       id,
					SortDate: base.Add(time.Duration(i) * time.Hour),
				}), ShouldBeNil)
				_, err := f.svc.ToggleScrap(ctx, userID, category.Language, id)
				So(err, ShouldBeNil)
			}

			res, err := f.svc.ListScraps(ctx, userID, category.Language, 2, false)

			Convey("Then page two holds items five through eight", func() {
				So(err, ShouldBeNil)
				So(res.Items, ShouldHaveLength, 4)
				So(res.Items[0].ID, ShouldEqual, "doc-04")
				So(res.Items[3].ID, ShouldEqual, "doc-07")
			})

			Convey("And a page below one reads as page one", func() {
				res, err := f.svc.ListScraps(ctx, userID, category.Language, -3, false)
				So(err, ShouldBeNil)
				So(res.Items, ShouldHaveLength, 4)
				So(res.Items[0].ID, ShouldEqual, "doc-00")
			})

			Convey("And a page past the end is Empty", func() {
				res, err := f.svc.ListScraps(ctx, userID, category.Language, 9, false)
				So(err, ShouldBeNil)
				So(res.Kind, ShouldEqual, app.KindEmpty)
			})
		})
	})
}

func TestActivityCascade(t *testing.T) {
	Convey("Given two users in the same cohort", t, func() {
		f := newFixture(t)
		ctx := context.Background()
		alice := f.user(t, "alice", "engineering")
		bob := f.user(t, "bob", "engineering")

		Convey("When they record different activity levels", func() {
			// Alice: two competitions, 5.0. Bob: two internships, 8.0.
			for i := 0; i < 2; i++ {
				ok, err := f.svc.CreateActivity(ctx, alice, category.Competition, "contest", "")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				ok, err = f.svc.CreateActivity(ctx, bob, category.Intern, "internship", "")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
			}

			Convey("Then thermometers and standings are persisted", func() {
				a, err := f.repo.GetUser(ctx, alice)
				So(err, ShouldBeNil)
				b, err := f.repo.GetUser(ctx, bob)
				So(err, ShouldBeNil)
				So(a.Thermometer, ShouldEqual, 5.0)
				So(b.Thermometer, ShouldEqual, 8.0)
				So(a.Top, ShouldEqual, 100)
				So(b.Top, ShouldEqual, 50)
			})

			Convey("And an overtake swaps the persisted standings", func() {
				// Alice adds an internship: 5.0 + 4.0 = 9.0 > 8.0.
				ok, err := f.svc.CreateActivity(ctx, alice, category.Intern, "internship", "")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)

				a, err := f.repo.GetUser(ctx, alice)
				So(err, ShouldBeNil)
				b, err := f.repo.GetUser(ctx, bob)
				So(err, ShouldBeNil)
				So(a.Top, ShouldEqual, 50)
				So(b.Top, ShouldEqual, 100)
			})
		})

		Convey("When an activity is deleted", func() {
			recordID, err := f.repo.AddActivity(ctx, alice, category.Certification, "cert", "")
			So(err, ShouldBeNil)

			ok, err := f.svc.DeleteActivity(ctx, alice, category.Certification, recordID)

			Convey("Then the thermometer falls back to zero", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				a, err := f.repo.GetUser(ctx, alice)
				So(err, ShouldBeNil)
				So(a.Thermometer, ShouldEqual, 0)
			})

			Convey("And deleting it again reports an error before any write", func() {
				_, err := f.svc.DeleteActivity(ctx, alice, category.Certification, recordID)
				So(errors.Is(err, repository.ErrActivityNotFound), ShouldBeTrue)
			})
		})

		Convey("When reading activity counts", func() {
			ok, err := f.svc.CreateActivity(ctx, alice, category.Certification, "cert", "")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			reading, err := f.svc.ActivityCounts(ctx, alice)

			Convey("Then the weighted sum matches the counts", func() {
				So(err, ShouldBeNil)
				So(reading.Counts[category.Certification], ShouldEqual, 1)
				So(reading.Sum, ShouldEqual, 4.5)
			})
		})

		Convey("When asking for a percentile directly", func() {
			ok, err := f.svc.CreateActivity(ctx, bob, category.Outside, "club", "")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			top, err := f.svc.Percentile(ctx, alice)

			Convey("Then it is recomputed and persisted", func() {
				So(err, ShouldBeNil)
				So(top, ShouldEqual, 100)
				a, err := f.repo.GetUser(ctx, alice)
				So(err, ShouldBeNil)
				So(a.Top, ShouldEqual, 100)
			})
		})
	})

	Convey("Given users in different cohorts", t, func() {
		f := newFixture(t)
		ctx := context.Background()
		alice := f.user(t, "alice", "engineering")
		carol := f.user(t, "carol", "design")

		Convey("When one cohort's member scores", func() {
			ok, err := f.svc.CreateActivity(ctx, alice, category.Intern, "internship", "")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			Convey("Then the other cohort is untouched", func() {
				top, err := f.svc.Percentile(ctx, carol)
				So(err, ShouldBeNil)
				So(top, ShouldEqual, 100)
			})
		})
	})
}

func TestDeleteUser(t *testing.T) {
	Convey("Given two ranked users in the same cohort", t, func() {
		f := newFixture(t)
		ctx := context.Background()
		alice := f.user(t, "alice", "engineering")
		bob := f.user(t, "bob", "engineering")

		// Alice: one competition, 2.5. Bob: one internship, 4.0.
		ok, err := f.svc.CreateActivity(ctx, alice, category.Competition, "contest", "")
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)
		ok, err = f.svc.CreateActivity(ctx, bob, category.Intern, "internship", "")
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)

		Convey("When the trailing member is deleted", func() {
			So(f.svc.DeleteUser(ctx, alice), ShouldBeNil)

			Convey("Then the profile is gone and the survivor's standing shifts", func() {
				_, err := f.repo.GetUser(ctx, alice)
				So(errors.Is(err, repository.ErrUserNotFound), ShouldBeTrue)

				// Bob was top 50 of two; alone he is top 100.
				b, err := f.repo.GetUser(ctx, bob)
				So(err, ShouldBeNil)
				So(b.Top, ShouldEqual, 100)

				top, err := f.svc.Percentile(ctx, bob)
				So(err, ShouldBeNil)
				So(top, ShouldEqual, 100)
			})
		})

		Convey("When the deleted user held scraps", func() {
			queue := &recordingQueue{}
			svc := app.NewService(f.repo, f.idx, rank.NewBoard(),
				app.WithRepairQueue(queue),
			)
			So(f.idx.Put(ctx, category.Outside, index.Document{ID: "doc-1", ScrapCount: 3}), ShouldBeNil)
			_, err := svc.ToggleScrap(ctx, alice, category.Outside, "doc-1")
			So(err, ShouldBeNil)

			So(svc.DeleteUser(ctx, alice), ShouldBeNil)

			Convey("Then the orphaned counter is handed to the repair pipeline", func() {
				So(queue.tasks, ShouldHaveLength, 1)
				So(queue.tasks[0].Category, ShouldEqual, category.Outside)
				So(queue.tasks[0].DocumentID, ShouldEqual, "doc-1")
			})
		})

		Convey("When deleting an unknown user", func() {
			err := f.svc.DeleteUser(ctx, uuid.New())

			Convey("Then it reports not found and nothing moves", func() {
				So(errors.Is(err, repository.ErrUserNotFound), ShouldBeTrue)
			})
		})

		Convey("When the last member of a cohort is deleted", func() {
			carol := f.user(t, "carol", "design")

			Convey("Then the deletion still succeeds", func() {
				So(f.svc.DeleteUser(ctx, carol), ShouldBeNil)
				_, err := f.repo.GetUser(ctx, carol)
				So(errors.Is(err, repository.ErrUserNotFound), ShouldBeTrue)
			})
		})
	})
}
