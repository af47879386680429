package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/dispatch-backend/internal/bidwindows"
	"github.com/angelmondragon/dispatch-backend/pkg/db/models"
	"github.com/angelmondragon/dispatch-backend/pkg/enums"
)

type stubBidWindows struct {
	openFn      func(bidwindows.CreateParams) (bidwindows.CreateResult, error)
	resolveFn   func(windowID, orgID uuid.UUID) (bidwindows.ResolveResult, error)
	submitFn    func(bidwindows.SubmitBidParams) (bidwindows.SubmitBidResult, error)
	escalateFn  func(bidwindows.EscalateParams) (bidwindows.EscalateResult, error)
	closeFn     func(bidwindows.CloseParams) (bidwindows.CloseResult, error)
	reopenFn    func(bidwindows.ReopenParams) (bidwindows.ReopenResult, error)
	getExpiredF func(orgID uuid.UUID, warehouses []uuid.UUID) ([]models.BidWindow, error)
}

func (s *stubBidWindows) Open(_ context.Context, p bidwindows.CreateParams) (bidwindows.CreateResult, error) {
	return s.openFn(p)
}

func (s *stubBidWindows) Resolve(_ context.Context, windowID, orgID uuid.UUID) (bidwindows.ResolveResult, error) {
	return s.resolveFn(windowID, orgID)
}

func (s *stubBidWindows) SubmitBid(_ context.Context, p bidwindows.SubmitBidParams) (bidwindows.SubmitBidResult, error) {
	return s.submitFn(p)
}

func (s *stubBidWindows) Escalate(_ context.Context, p bidwindows.EscalateParams) (bidwindows.EscalateResult, error) {
	return s.escalateFn(p)
}

func (s *stubBidWindows) Close(_ context.Context, p bidwindows.CloseParams) (bidwindows.CloseResult, error) {
	return s.closeFn(p)
}

func (s *stubBidWindows) Reopen(_ context.Context, p bidwindows.ReopenParams) (bidwindows.ReopenResult, error) {
	return s.reopenFn(p)
}

func (s *stubBidWindows) GetExpired(_ context.Context, orgID uuid.UUID, warehouses []uuid.UUID) ([]models.BidWindow, error) {
	return s.getExpiredF(orgID, warehouses)
}

func TestOpenBidWindowCreated(t *testing.T) {
	actor := newActor("manager")
	assignmentID := uuid.New()
	windowID := uuid.New()
	svc := &stubBidWindows{openFn: func(p bidwindows.CreateParams) (bidwindows.CreateResult, error) {
		if p.AssignmentID != assignmentID || p.OrganizationID != actor.OrganizationID {
			t.Fatalf("unexpected params %+v", p)
		}
		if p.Trigger != enums.BidWindowTriggerManual || p.Mode != enums.BidWindowModeInstant {
			t.Fatalf("unexpected trigger/mode %s/%s", p.Trigger, p.Mode)
		}
		if p.ActorID == nil || *p.ActorID != actor.UserID {
			t.Fatal("expected actor id forwarded")
		}
		return bidwindows.CreateResult{Success: true, BidWindowID: windowID, NotifiedCount: 3}, nil
	}}

	req := jsonRequest(http.MethodPost, "/", `{"trigger":"manual","mode":"instant"}`)
	req = addRouteParam(withActor(req, actor), "assignmentId", assignmentID.String())
	rec := httptest.NewRecorder()
	OpenBidWindow(svc, testLogger())(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var data createBidWindowResponse
	decodeData(t, rec, &data)
	if data.BidWindowID != windowID || data.NotifiedCount != 3 {
		t.Fatalf("unexpected body %+v", data)
	}
}

func TestOpenBidWindowOutcomes(t *testing.T) {
	cases := []struct {
		reason bidwindows.Reason
		status int
	}{
		{bidwindows.ReasonOpenWindowExists, http.StatusConflict},
		{bidwindows.ReasonAssignmentNotFound, http.StatusNotFound},
		{bidwindows.ReasonShiftAlreadyPassed, http.StatusUnprocessableEntity},
		{bidwindows.ReasonAssignmentFilled, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(string(tc.reason), func(t *testing.T) {
			svc := &stubBidWindows{openFn: func(bidwindows.CreateParams) (bidwindows.CreateResult, error) {
				return bidwindows.CreateResult{Reason: tc.reason}, nil
			}}
			req := jsonRequest(http.MethodPost, "/", `{"trigger":"manual"}`)
			req = addRouteParam(withActor(req, newActor("manager")), "assignmentId", uuid.NewString())
			rec := httptest.NewRecorder()
			OpenBidWindow(svc, testLogger())(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, rec.Code)
			}
			if msg := errorMessage(t, rec); msg != string(tc.reason) {
				t.Fatalf("expected message %s got %s", tc.reason, msg)
			}
		})
	}
}

func TestOpenBidWindowValidation(t *testing.T) {
	svc := &stubBidWindows{openFn: func(bidwindows.CreateParams) (bidwindows.CreateResult, error) {
		t.Fatal("service must not be called")
		return bidwindows.CreateResult{}, nil
	}}

	req := jsonRequest(http.MethodPost, "/", `{"trigger":"whenever"}`)
	req = addRouteParam(withActor(req, newActor("manager")), "assignmentId", uuid.NewString())
	rec := httptest.NewRecorder()
	OpenBidWindow(svc, testLogger())(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad trigger got %d", rec.Code)
	}

	req = jsonRequest(http.MethodPost, "/", `{"trigger":"manual"}`)
	req = addRouteParam(withActor(req, newActor("manager")), "assignmentId", "nope")
	rec = httptest.NewRecorder()
	OpenBidWindow(svc, testLogger())(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id got %d", rec.Code)
	}

	req = addRouteParam(jsonRequest(http.MethodPost, "/", `{"trigger":"manual"}`), "assignmentId", uuid.NewString())
	rec = httptest.NewRecorder()
	OpenBidWindow(svc, testLogger())(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without organization got %d", rec.Code)
	}
}

func TestResolveBidWindowNoBidsIsSuccess(t *testing.T) {
	actor := newActor("manager")
	windowID := uuid.New()
	svc := &stubBidWindows{resolveFn: func(w, org uuid.UUID) (bidwindows.ResolveResult, error) {
		if w != windowID || org != actor.OrganizationID {
			t.Fatalf("unexpected ids %s %s", w, org)
		}
		return bidwindows.ResolveResult{Transitioned: true, Reason: bidwindows.ReasonNoBids}, nil
	}}

	req := addRouteParam(withActor(httptest.NewRequest(http.MethodPost, "/", nil), actor), "windowId", windowID.String())
	rec := httptest.NewRecorder()
	ResolveBidWindow(svc, testLogger())(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var data resolveResponse
	decodeData(t, rec, &data)
	if data.Resolved || !data.Transitioned || data.Reason != "no_bids" {
		t.Fatalf("unexpected body %+v", data)
	}
}

func TestSubmitBid(t *testing.T) {
	actor := newActor("driver")
	bidID := uuid.New()

	accepted := &stubBidWindows{submitFn: func(p bidwindows.SubmitBidParams) (bidwindows.SubmitBidResult, error) {
		if p.UserID != actor.UserID || p.OrganizationID != actor.OrganizationID {
			t.Fatalf("unexpected params %+v", p)
		}
		return bidwindows.SubmitBidResult{Accepted: true, BidID: bidID}, nil
	}}
	req := addRouteParam(withActor(httptest.NewRequest(http.MethodPost, "/", nil), actor), "windowId", uuid.NewString())
	rec := httptest.NewRecorder()
	SubmitBid(accepted, testLogger())(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}
	var data bidResponse
	decodeData(t, rec, &data)
	if data.BidID != bidID || data.InstantlyAssigned {
		t.Fatalf("unexpected body %+v", data)
	}

	lost := &stubBidWindows{submitFn: func(bidwindows.SubmitBidParams) (bidwindows.SubmitBidResult, error) {
		return bidwindows.SubmitBidResult{}, nil
	}}
	req = addRouteParam(withActor(httptest.NewRequest(http.MethodPost, "/", nil), actor), "windowId", uuid.NewString())
	rec = httptest.NewRecorder()
	SubmitBid(lost, testLogger())(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for lost race got %d", rec.Code)
	}
	if msg := errorMessage(t, rec); msg != bidwindows.RouteAlreadyAssigned {
		t.Fatalf("unexpected message %q", msg)
	}

	ineligible := &stubBidWindows{submitFn: func(bidwindows.SubmitBidParams) (bidwindows.SubmitBidResult, error) {
		return bidwindows.SubmitBidResult{Reason: bidwindows.ReasonNotEligible}, nil
	}}
	req = addRouteParam(withActor(httptest.NewRequest(http.MethodPost, "/", nil), actor), "windowId", uuid.NewString())
	rec = httptest.NewRecorder()
	SubmitBid(ineligible, testLogger())(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}

func TestEscalateAssignmentReportsSupersededWindow(t *testing.T) {
	actor := newActor("manager")
	superseded := uuid.New()
	svc := &stubBidWindows{escalateFn: func(p bidwindows.EscalateParams) (bidwindows.EscalateResult, error) {
		if p.PayBonusPercent == nil || *p.PayBonusPercent != 40 {
			t.Fatalf("expected bonus override, got %v", p.PayBonusPercent)
		}
		return bidwindows.EscalateResult{
			CreateResult:       bidwindows.CreateResult{Success: true, BidWindowID: uuid.New(), NotifiedCount: 8},
			SupersededWindowID: &superseded,
		}, nil
	}}

	req := jsonRequest(http.MethodPost, "/", `{"pay_bonus_percent":40}`)
	req = addRouteParam(withActor(req, actor), "assignmentId", uuid.NewString())
	rec := httptest.NewRecorder()
	EscalateAssignment(svc, testLogger())(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var data createBidWindowResponse
	decodeData(t, rec, &data)
	if data.SupersededWindowID == nil || *data.SupersededWindowID != superseded {
		t.Fatalf("expected superseded window in body, got %+v", data)
	}
}

func TestReopenAssignment(t *testing.T) {
	released := uuid.New()
	svc := &stubBidWindows{reopenFn: func(p bidwindows.ReopenParams) (bidwindows.ReopenResult, error) {
		if p.Trigger != enums.BidWindowTriggerCancellation {
			t.Fatalf("unexpected trigger %s", p.Trigger)
		}
		return bidwindows.ReopenResult{
			CreateResult:   bidwindows.CreateResult{Success: true, BidWindowID: uuid.New()},
			ReleasedUserID: &released,
			LateCancel:     true,
		}, nil
	}}

	req := jsonRequest(http.MethodPost, "/", `{"trigger":"cancellation"}`)
	req = addRouteParam(withActor(req, newActor("manager")), "assignmentId", uuid.NewString())
	rec := httptest.NewRecorder()
	ReopenAssignment(svc, testLogger())(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var data createBidWindowResponse
	decodeData(t, rec, &data)
	if !data.LateCancel || data.ReleasedUserID == nil || *data.ReleasedUserID != released {
		t.Fatalf("unexpected body %+v", data)
	}
}

func TestCloseBidWindow(t *testing.T) {
	svc := &stubBidWindows{closeFn: func(bidwindows.CloseParams) (bidwindows.CloseResult, error) {
		return bidwindows.CloseResult{Reason: bidwindows.ReasonWindowNotOpen}, nil
	}}
	req := addRouteParam(withActor(httptest.NewRequest(http.MethodPost, "/", nil), newActor("manager")), "windowId", uuid.NewString())
	rec := httptest.NewRecorder()
	CloseBidWindow(svc, testLogger())(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rec.Code)
	}

	svc.closeFn = func(bidwindows.CloseParams) (bidwindows.CloseResult, error) {
		return bidwindows.CloseResult{Closed: true, RejectedCount: 2}, nil
	}
	req = addRouteParam(withActor(httptest.NewRequest(http.MethodPost, "/", nil), newActor("manager")), "windowId", uuid.NewString())
	rec = httptest.NewRecorder()
	CloseBidWindow(svc, testLogger())(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var data map[string]any
	decodeData(t, rec, &data)
	if data["closed"] != true || data["rejected_count"] != float64(2) {
		t.Fatalf("unexpected body %+v", data)
	}
}

func TestListExpiredBidWindowsFiltersWarehouses(t *testing.T) {
	actor := newActor("manager")
	wh1, wh2 := uuid.New(), uuid.New()
	svc := &stubBidWindows{getExpiredF: func(org uuid.UUID, warehouses []uuid.UUID) ([]models.BidWindow, error) {
		if org != actor.OrganizationID {
			t.Fatalf("unexpected org %s", org)
		}
		if len(warehouses) != 2 || warehouses[0] != wh1 || warehouses[1] != wh2 {
			t.Fatalf("unexpected warehouses %v", warehouses)
		}
		return []models.BidWindow{{ID: uuid.New(), WarehouseID: wh1, Mode: enums.BidWindowModeCompetitive, Status: enums.BidWindowStatusOpen}}, nil
	}}

	req := httptest.NewRequest(http.MethodGet, "/?warehouse_id="+wh1.String()+","+wh2.String(), nil)
	rec := httptest.NewRecorder()
	ListExpiredBidWindows(svc, testLogger())(rec, withActor(req, actor))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var data []bidWindowDTO
	decodeData(t, rec, &data)
	if len(data) != 1 || data[0].WarehouseID != wh1 || data[0].Mode != "competitive" {
		t.Fatalf("unexpected body %+v", data)
	}

	req = httptest.NewRequest(http.MethodGet, "/?warehouse_id=bogus", nil)
	rec = httptest.NewRecorder()
	ListExpiredBidWindows(svc, testLogger())(rec, withActor(req, actor))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestEscalateAssignmentAcceptsEmptyBody(t *testing.T) {
	svc := &stubBidWindows{escalateFn: func(p bidwindows.EscalateParams) (bidwindows.EscalateResult, error) {
		if p.PayBonusPercent != nil {
			t.Fatalf("expected organization default bonus, got %d", *p.PayBonusPercent)
		}
		return bidwindows.EscalateResult{CreateResult: bidwindows.CreateResult{Success: true, BidWindowID: uuid.New()}}, nil
	}}
	req := addRouteParam(withActor(httptest.NewRequest(http.MethodPost, "/", nil), newActor("manager")), "assignmentId", uuid.NewString())
	rec := httptest.NewRecorder()
	EscalateAssignment(svc, testLogger())(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
}
