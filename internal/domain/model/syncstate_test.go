package model_test

import (
	"errors"
	"testing"
	"time"

	model "github.com/okian/ecovision/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

var allStates = []model.SyncState{model.SyncLocal, model.SyncPending, model.SyncSynced, model.SyncConflict}

func TestSyncStateMachine(t *testing.T) {
	convey.Convey("Given the sync state machine", t, func() {
		convey.Convey("Then only the documented edges are legal", func() {
			legal := map[[2]model.SyncState]bool{
				{model.SyncLocal, model.SyncPending}:    true,
				{model.SyncPending, model.SyncSynced}:   true,
				{model.SyncPending, model.SyncConflict}: true,
				{model.SyncPending, model.SyncLocal}:    true,
			}
			for _, from := range allStates {
				for _, to := range allStates {
					convey.So(model.CanTransition(from, to), convey.ShouldEqual, legal[[2]model.SyncState{from, to}])
				}
			}
		})

		convey.Convey("Then terminal states reject every transition", func() {
			for _, from := range []model.SyncState{model.SyncSynced, model.SyncConflict} {
				convey.So(from.Terminal(), convey.ShouldBeTrue)
				for _, to := range allStates {
					r := model.InferenceResult{SyncState: from}
					err := r.Transition(to)
					convey.So(errors.Is(err, model.ErrIllegalTransition), convey.ShouldBeTrue)
					convey.So(r.SyncState, convey.ShouldEqual, from)
				}
			}
		})

		convey.Convey("When walking a random sequence of requested transitions", func() {
			r := model.InferenceResult{SyncState: model.SyncLocal}
			reachedTerminal := false
			seq := []model.SyncState{
				model.SyncPending, model.SyncLocal, model.SyncSynced, model.SyncPending,
				model.SyncConflict, model.SyncLocal, model.SyncPending, model.SyncSynced,
			}
			for _, to := range seq {
				before := r.SyncState
				err := r.Transition(to)
				if reachedTerminal {
					convey.So(err, convey.ShouldNotBeNil)
					convey.So(r.SyncState, convey.ShouldEqual, before)
				}
				if r.SyncState.Terminal() {
					reachedTerminal = true
				}
			}

			convey.Convey("Then the walk ends in a terminal state it never left", func() {
				convey.So(reachedTerminal, convey.ShouldBeTrue)
				convey.So(r.SyncState, convey.ShouldEqual, model.SyncConflict)
			})
		})

		convey.Convey("Then unknown states are invalid", func() {
			convey.So(model.SyncState("bogus").Valid(), convey.ShouldBeFalse)
			convey.So(model.SyncPending.Valid(), convey.ShouldBeTrue)
		})
	})
}

func TestInferenceResult(t *testing.T) {
	convey.Convey("Given two results for the same fingerprint", t, func() {
		a := model.InferenceResult{
			Fingerprint: "fp",
			Label:       "plastic",
			Confidence:  0.9,
			Ranked:      []model.LabelScore{{Label: "plastic", Score: 0.9}, {Label: "glass", Score: 0.1}},
			Timestamp:   time.Unix(100, 0),
			SyncState:   model.SyncLocal,
		}
		b := a.Clone()
		b.Timestamp = time.Unix(200, 0)

		convey.Convey("Then timestamps do not affect content equality", func() {
			convey.So(a.SameContent(b), convey.ShouldBeTrue)
		})

		convey.Convey("Then a different state is different content", func() {
			b.SyncState = model.SyncPending
			convey.So(a.SameContent(b), convey.ShouldBeFalse)
		})

		convey.Convey("Then Clone does not share the ranked slice", func() {
			b.Ranked[0].Score = 0.1
			convey.So(a.Ranked[0].Score, convey.ShouldEqual, 0.9)
		})

		convey.Convey("Then authoritative matching tolerates float noise", func() {
			convey.So(model.Authoritative{Label: "plastic", Confidence: 0.9000000001}.Matches(a), convey.ShouldBeTrue)
			convey.So(model.Authoritative{Label: "glass", Confidence: 0.9}.Matches(a), convey.ShouldBeFalse)
		})
	})
}

func TestTensor(t *testing.T) {
	convey.Convey("Given a tensor", t, func() {
		tt := model.NewTensor(1, 2, 2, 3)

		convey.Convey("Then it is sized from its shape", func() {
			convey.So(tt.Len(), convey.ShouldEqual, 12)
			convey.So(tt.Valid(), convey.ShouldBeTrue)
		})

		convey.Convey("Then equal tensors encode to equal bytes", func() {
			c := tt.Clone()
			convey.So(c.Bytes(), convey.ShouldResemble, tt.Bytes())
			c.Data[3] = 0.5
			convey.So(c.Bytes(), convey.ShouldNotResemble, tt.Bytes())
		})

		convey.Convey("Then the shape is part of the encoding", func() {
			reshaped := model.Tensor{Shape: []int64{1, 12}, Data: tt.Data}
			convey.So(reshaped.Bytes(), convey.ShouldNotResemble, tt.Bytes())
		})

		convey.Convey("Then zero dims give an invalid tensor", func() {
			convey.So(model.ShapeSize([]int64{1, 0, 3}), convey.ShouldEqual, 0)
			convey.So(model.Tensor{}.Valid(), convey.ShouldBeFalse)
		})
	})
}
