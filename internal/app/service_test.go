package service_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/ecovision/internal/adapters/backend"
	"github.com/okian/ecovision/internal/adapters/repository"
	"github.com/okian/ecovision/internal/adapters/runtime"
	service "github.com/okian/ecovision/internal/app"
	"github.com/okian/ecovision/internal/domain/model"
	"github.com/okian/ecovision/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

type fakePredictor struct {
	contract model.Contract
	scores   []float32
	err      error
	calls    atomic.Int32
	closed   atomic.Bool
}

func newFakePredictor(scores ...float32) *fakePredictor {
	return &fakePredictor{contract: model.DefaultContract(), scores: scores}
}

func (p *fakePredictor) Predict(_ context.Context, _ model.Tensor) (model.Tensor, error) {
	p.calls.Add(1)
	if p.err != nil {
		return model.Tensor{}, p.err
	}
	return model.Tensor{Shape: []int64{1, int64(len(p.scores))}, Data: p.scores}, nil
}

func (p *fakePredictor) Contract() model.Contract { return p.contract }
func (p *fakePredictor) Accelerated() bool        { return false }
func (p *fakePredictor) Close() error             { p.closed.Store(true); return nil }

// gatedUploader rejects uploads as unauthorized until it is opened.
type gatedUploader struct {
	open  atomic.Bool
	calls atomic.Int32
}

func (u *gatedUploader) Upload(_ context.Context, r model.InferenceResult) (model.Authoritative, error) {
	u.calls.Add(1)
	if !u.open.Load() {
		return model.Authoritative{}, &backend.SyncError{Kind: backend.KindUnauthorized, Code: http.StatusUnauthorized, Attempts: 1}
	}
	return model.Authoritative{Label: r.Label, Confidence: r.Confidence}, nil
}

type fakeAccounts struct {
	gate        *gatedUploader
	registered  []backend.Registration
	revalidated atomic.Int32
}

func (a *fakeAccounts) Register(_ context.Context, reg backend.Registration) error {
	a.registered = append(a.registered, reg)
	return nil
}

func (a *fakeAccounts) Login(_ context.Context, creds backend.Credentials) error {
	if creds.Password != "s3cret" {
		return &backend.SyncError{Op: backend.OpLogin, Kind: backend.KindUnauthorized, Code: http.StatusOK}
	}
	a.gate.open.Store(true)
	return nil
}

func (a *fakeAccounts) Revalidate(_ context.Context) error {
	a.revalidated.Add(1)
	return backend.ErrNoCredentials
}

type recordingUploader struct {
	calls atomic.Int32
}

func (u *recordingUploader) Upload(_ context.Context, r model.InferenceResult) (model.Authoritative, error) {
	u.calls.Add(1)
	return model.Authoritative{Label: r.Label, Confidence: r.Confidence}, nil
}

// rgbSample is a 4x4 solid color frame.
func rgbSample(r, g, b byte) model.InputSample {
	data := make([]byte, 0, 4*4*3)
	for i := 0; i < 16; i++ {
		data = append(data, r, g, b)
	}
	return model.InputSample{Data: data, Format: model.FormatRGB8, Width: 4, Height: 4, CapturedAt: time.Now()}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should report defaults before start", func() {
			stats := svc.GetStats(context.Background())
			So(stats["started"], ShouldEqual, false)
			So(stats["threshold"], ShouldEqual, 0.5)
			So(stats["policy"], ShouldEqual, "remote_wins")
		})

		Convey("Then operations fail until it is started", func() {
			_, err := svc.Process(context.Background(), rgbSample(1, 2, 3))
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			_, err = svc.Status(context.Background(), "fp")
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})
	})
}

func TestService_Start(t *testing.T) {
	Convey("Given a service whose model artifact is missing", t, func() {
		svc := service.New(service.WithRuntime(runtime.Options{
			ModelPath: "/nonexistent/model.tflite",
			Contract:  model.DefaultContract(),
		}))

		Convey("Then Start reports a model load error", func() {
			err := svc.Start(context.Background())
			So(errors.Is(err, service.ErrModelLoad), ShouldBeTrue)
		})
	})

	Convey("Given a service with a ready predictor", t, func() {
		pred := newFakePredictor(0.9, 0.02, 0.02, 0.02, 0.02, 0.02)
		svc := service.New(service.WithPredictor(pred), service.WithUploader(&recordingUploader{}))

		So(svc.Start(context.Background()), ShouldBeNil)
		So(svc.Start(context.Background()), ShouldBeNil)
		Reset(svc.Stop)

		Convey("Then it reports as started", func() {
			stats := svc.GetStats(context.Background())
			So(stats["started"], ShouldEqual, true)
			So(stats["online"], ShouldEqual, true)
			So(stats["cachedResults"], ShouldEqual, 0)
		})

		Convey("Then Stop leaves an injected predictor open for a restart", func() {
			svc.Stop()
			svc.Stop()
			So(pred.closed.Load(), ShouldBeFalse)
			So(svc.GetStats(context.Background())["started"], ShouldEqual, false)

			So(svc.Start(context.Background()), ShouldBeNil)
			r, err := svc.Process(context.Background(), rgbSample(9, 9, 9))
			So(err, ShouldBeNil)
			So(r.Label, ShouldEqual, "plastic")
			So(pred.calls.Load(), ShouldEqual, 1)
		})
	})
}

func TestService_Process(t *testing.T) {
	Convey("Given a started offline service", t, func() {
		ctx := context.Background()
		pred := newFakePredictor(0.9, 0.02, 0.02, 0.02, 0.02, 0.02)
		up := &recordingUploader{}
		svc := service.New(
			service.WithPredictor(pred),
			service.WithUploader(up),
			service.WithStartOnline(false),
		)
		So(svc.Start(ctx), ShouldBeNil)
		Reset(svc.Stop)

		Convey("When the same sample is processed twice", func() {
			first, err := svc.Process(ctx, rgbSample(10, 200, 30))
			So(err, ShouldBeNil)
			second, err := svc.Process(ctx, rgbSample(10, 200, 30))
			So(err, ShouldBeNil)

			Convey("Then the result is identical and the model ran once", func() {
				So(second, ShouldResemble, first)
				So(pred.calls.Load(), ShouldEqual, 1)
				So(first.Label, ShouldEqual, "plastic")
				So(first.SyncState, ShouldEqual, model.SyncLocal)
				So(first.Fingerprint, ShouldNotBeEmpty)
			})

			Convey("Then nothing is uploaded while offline", func() {
				So(up.calls.Load(), ShouldEqual, 0)
				st, err := svc.Status(ctx, first.Fingerprint)
				So(err, ShouldBeNil)
				So(st.Result.SyncState, ShouldEqual, model.SyncLocal)
			})

			Convey("Then coming online syncs the cached result", func() {
				So(svc.SetConnectivity(ctx, true), ShouldBeNil)
				So(eventually(func() bool {
					st, err := svc.Status(ctx, first.Fingerprint)
					return err == nil && st.Result.SyncState == model.SyncSynced
				}), ShouldBeTrue)
				So(up.calls.Load(), ShouldEqual, 1)
			})
		})

		Convey("When different samples are processed", func() {
			a, err := svc.Process(ctx, rgbSample(255, 0, 0))
			So(err, ShouldBeNil)
			b, err := svc.Process(ctx, rgbSample(0, 0, 255))
			So(err, ShouldBeNil)

			Convey("Then each gets its own fingerprint", func() {
				So(a.Fingerprint, ShouldNotEqual, b.Fingerprint)
				So(pred.calls.Load(), ShouldEqual, 2)
				So(svc.GetStats(ctx)["cachedResults"], ShouldEqual, 2)
			})
		})

		Convey("When the sample cannot be decoded", func() {
			_, err := svc.Process(ctx, model.InputSample{Data: []byte("not an image"), Format: model.FormatEncoded})

			Convey("Then a preprocess error is returned", func() {
				So(errors.Is(err, service.ErrPreprocess), ShouldBeTrue)
				So(pred.calls.Load(), ShouldEqual, 0)
			})
		})

		Convey("When the model fails", func() {
			pred.err = errors.Join(runtime.ErrInference, errors.New("boom"))
			_, err := svc.Process(ctx, rgbSample(1, 1, 1))

			Convey("Then an inference error is returned and nothing is cached", func() {
				So(errors.Is(err, service.ErrInference), ShouldBeTrue)
				So(svc.GetStats(ctx)["cachedResults"], ShouldEqual, 0)
			})
		})

		Convey("Status of an unknown fingerprint is not found", func() {
			_, err := svc.Status(ctx, "nope")
			So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
		})
	})

	Convey("Given a top score of 0.42 and a threshold of 0.5", t, func() {
		ctx := context.Background()
		pred := newFakePredictor(0.42, 0.2, 0.18, 0.1, 0.05, 0.05)
		svc := service.New(
			service.WithPredictor(pred),
			service.WithUploader(&recordingUploader{}),
			service.WithThreshold(0.5),
			service.WithStartOnline(false),
		)
		So(svc.Start(ctx), ShouldBeNil)
		Reset(svc.Stop)

		r, err := svc.Process(ctx, rgbSample(90, 90, 90))

		Convey("Then the result is Unknown and Local", func() {
			So(err, ShouldBeNil)
			So(r.Label, ShouldEqual, model.UnknownLabel)
			So(r.Confidence, ShouldAlmostEqual, 0.42, 1e-6)
			So(r.SyncState, ShouldEqual, model.SyncLocal)
		})
	})
}

func TestService_Accounts(t *testing.T) {
	Convey("Given a service without account management", t, func() {
		svc := service.New(service.WithPredictor(newFakePredictor(0.9)), service.WithUploader(&recordingUploader{}))

		Convey("Then account calls fail before start", func() {
			So(errors.Is(svc.Login(context.Background(), backend.Credentials{}), service.ErrNotStarted), ShouldBeTrue)
		})

		Convey("Then account calls report it is not configured once started", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			defer svc.Stop()
			err := svc.Register(context.Background(), backend.Registration{})
			So(errors.Is(err, service.ErrNoAccounts), ShouldBeTrue)
		})
	})

	Convey("Given uploads rejected until the account logs in", t, func() {
		ctx := context.Background()
		gate := &gatedUploader{}
		accounts := &fakeAccounts{gate: gate}
		svc := service.New(
			service.WithPredictor(newFakePredictor(0.05, 0.05, 0.05, 0.8, 0.03, 0.02)),
			service.WithUploader(gate),
			service.WithAccounts(accounts),
		)
		So(svc.Start(ctx), ShouldBeNil)
		Reset(svc.Stop)

		r, err := svc.Process(ctx, rgbSample(80, 80, 80))
		So(err, ShouldBeNil)
		So(eventually(func() bool {
			st, err := svc.Status(ctx, r.Fingerprint)
			return err == nil && !st.InFlight && st.Result.SyncState == model.SyncLocal && st.LastError != ""
		}), ShouldBeTrue)
		So(accounts.revalidated.Load(), ShouldEqual, 1)

		Convey("When login fails the entry stays Local", func() {
			err := svc.Login(ctx, backend.Credentials{Username: "ana", Password: "nope"})
			So(errors.Is(err, backend.ErrUnauthorized), ShouldBeTrue)
			st, _ := svc.Status(ctx, r.Fingerprint)
			So(st.Result.SyncState, ShouldEqual, model.SyncLocal)
		})

		Convey("When login succeeds the entry is synced", func() {
			So(svc.Login(ctx, backend.Credentials{Username: "ana", Password: "s3cret"}), ShouldBeNil)
			So(eventually(func() bool {
				st, err := svc.Status(ctx, r.Fingerprint)
				return err == nil && st.Result.SyncState == model.SyncSynced
			}), ShouldBeTrue)
			So(gate.calls.Load(), ShouldEqual, 2)
		})

		Convey("Register is delegated", func() {
			So(svc.Register(ctx, backend.Registration{Username: "ana"}), ShouldBeNil)
			So(accounts.registered, ShouldHaveLength, 1)
		})
	})
}

func TestService_SyncFailureDoesNotAffectResult(t *testing.T) {
	Convey("Given a backend that always fails", t, func() {
		ctx := context.Background()
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		client := backend.New(
			backend.WithBaseURL(srv.URL),
			backend.WithBackoff(time.Millisecond, 2*time.Millisecond),
			backend.WithMaxRetries(1),
		)
		store := repository.NewMemoryStore()
		svc := service.New(
			service.WithPredictor(newFakePredictor(0.1, 0.1, 0.7, 0.05, 0.03, 0.02)),
			service.WithUploader(client),
			service.WithStore(store),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		r, err := svc.Process(ctx, rgbSample(0, 128, 255))

		Convey("Then Process still succeeds and the entry returns to Local", func() {
			So(err, ShouldBeNil)
			So(r.Label, ShouldEqual, "glass")
			So(eventually(func() bool { return hits.Load() == 2 }), ShouldBeTrue)
			So(eventually(func() bool {
				st, err := svc.Status(ctx, r.Fingerprint)
				return err == nil && !st.InFlight && st.Result.SyncState == model.SyncLocal && st.LastError != ""
			}), ShouldBeTrue)
		})
	})
}
