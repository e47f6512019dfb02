package httptransport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/audit/mocks"
	"auditlog/pkg/platform/audit/redact"
	"auditlog/pkg/platform/audit/registry"
	"auditlog/pkg/platform/audit/store/memory"
	"auditlog/pkg/platform/audit/writer"
	"auditlog/pkg/platform/middleware/auth"
	"auditlog/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	store     *memory.InMemoryStore
	registry  *registry.Registry
	validator *auth.HMACValidator
	router    http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.store = memory.NewInMemoryStore()
	s.registry = registry.New(
		registry.Registration{Type: "accounts.User", Options: registry.Options{
			Fields: []string{"name", "email", "password", "ssn"},
			Redact: []string{"ssn"},
		}},
		registry.Registration{Type: "accounts.Address", Options: registry.Options{
			AttributeTo: &registry.Attribution{ParentType: "accounts.User", ParentIDField: "user_id", FieldPrefix: "address."},
		}},
	)
	s.validator = auth.NewHMACValidator("secret", "")
	s.router = s.newRouter(false)
}

func (s *HandlerSuite) newRouter(trackReads bool) http.Handler {
	if trackReads {
		s.registry.Register(EntryResourceType, registry.Options{})
	}
	w := writer.New(s.registry, s.store)
	h := NewHandler(s.store, w, s.registry)
	return NewRouter(h, RouterOptions{Validator: s.validator, TrackReads: trackReads})
}

func (s *HandlerSuite) post(path string, body any, token string) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, path, body)
	req.Header.Set("X-Forwarded-For", "198.51.100.4")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) get(path string) *httptest.ResponseRecorder {
	return testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, path))
}

func (s *HandlerSuite) record(body map[string]any) EntryResponse {
	rr := s.post("/audit/events", body, "")
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	return *testutil.UnmarshalResponse[EntryResponse](s.T(), rr)
}

func (s *HandlerSuite) TestRecordEvent_Update() {
	token, err := s.validator.Issue(audit.Actor{ID: "u-1", Name: "ada"}, time.Minute)
	s.Require().NoError(err)

	rr := s.post("/audit/events", map[string]any{
		"resource_type": "accounts.User",
		"resource_id":   "42",
		"resource_repr": "ada@example.com",
		"action":        "UPDATE",
		"old":           map[string]any{"name": "Ada", "email": "a@x", "password": "old", "age": 36},
		"new":           map[string]any{"name": "Ada L", "email": "a@x", "password": "new", "age": 37},
	}, token)

	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	resp := testutil.UnmarshalResponse[EntryResponse](s.T(), rr)
	s.Equal(audit.ActionUpdate, resp.Action)
	s.Equal("ada", resp.ActorLabel)
	s.Equal("198.51.100.4", resp.RemoteAddress)
	s.Equal("42", resp.Resource)
	s.Equal("2 changes: name, password", resp.Summary)

	stored, err := s.store.List(context.Background(), audit.Filter{})
	s.Require().NoError(err)
	s.Require().Len(stored, 1)
	s.Equal(redact.Mask, *stored[0].Changes["password"].New)
}

func (s *HandlerSuite) TestRecordEvent_NoContent() {
	s.Run("untracked type", func() {
		rr := s.post("/audit/events", map[string]any{
			"resource_type": "billing.Invoice", "resource_id": "1", "action": "create",
			"new": map[string]any{"total": 10},
		}, "")
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
	})

	s.Run("update without changes", func() {
		rr := s.post("/audit/events", map[string]any{
			"resource_type": "accounts.User", "resource_id": "1", "action": "update",
			"old": map[string]any{"name": "a"}, "new": map[string]any{"name": "a"},
		}, "")
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
	})

	s.Run("numbers equal by value", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/audit/events",
			`{"resource_type":"accounts.Address","resource_id":"9","action":"update",`+
				`"old":{"user_id":1,"floor":2,"geo":{"lat":1.50}},`+
				`"new":{"user_id":1.0,"floor":2.0,"geo":{"lat":1.5}}}`)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
	})

	s.Run("forced update without changes", func() {
		rr := s.post("/audit/events", map[string]any{
			"resource_type": "accounts.User", "resource_id": "1", "action": "update",
			"old": map[string]any{"name": "a"}, "new": map[string]any{"name": "a"}, "force": true,
		}, "")
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		resp := testutil.UnmarshalResponse[EntryResponse](s.T(), rr)
		s.Equal("0 changes: ", resp.Summary)
		s.Equal("system", resp.ActorLabel)
	})
}

func (s *HandlerSuite) TestRecordEvent_BodyActorWithoutToken() {
	resp := s.record(map[string]any{
		"resource_type": "accounts.User", "resource_id": "7", "action": "create",
		"new":   map[string]any{"name": "Grace"},
		"actor": map[string]any{"id": "svc-1", "name": "importer"},
	})
	s.Require().NotNil(resp.Actor)
	s.Equal("svc-1", resp.Actor.ID)
	s.Equal("1 change: name", resp.Summary)
}

func (s *HandlerSuite) TestRecordEvent_Attribution() {
	resp := s.record(map[string]any{
		"resource_type": "accounts.Address", "resource_id": "9", "action": "update",
		"old": map[string]any{"user_id": 42, "city": "Paris"},
		"new": map[string]any{"user_id": 42, "city": "Lyon"},
	})
	s.Equal("accounts.User", resp.ResourceType)
	s.Require().NotNil(resp.ResourceID)
	s.Equal("42", *resp.ResourceID)
	s.Equal("1 change: address.city", resp.Summary)
}

func (s *HandlerSuite) TestRecordEvent_BadRequests() {
	tests := []struct {
		name string
		body any
	}{
		{"unknown action", map[string]any{"resource_type": "accounts.User", "resource_id": "1", "action": "archive"}},
		{"delete with changes", map[string]any{
			"resource_type": "accounts.User", "resource_id": "1", "action": "delete",
			"changes": map[string]any{"name": []any{"a", nil}},
		}},
		{"missing identifier", map[string]any{"resource_type": "accounts.User", "action": "create", "new": map[string]any{"name": "x"}}},
		{"unknown field", map[string]any{"resource_type": "accounts.User", "action": "create", "colour": "red"}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			rr := s.post("/audit/events", tt.body, "")
			testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
		})
	}

	s.Run("malformed json", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/audit/events", "{")
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})
}

func (s *HandlerSuite) TestRecordEvent_InvalidToken() {
	rr := s.post("/audit/events", map[string]any{"resource_type": "accounts.User", "action": "view"}, "garbage")
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
}

func (s *HandlerSuite) TestRecordView() {
	token, err := s.validator.Issue(audit.Actor{ID: "u-2"}, time.Minute)
	s.Require().NoError(err)

	for _, denied := range []bool{false, false, true} {
		rr := s.post("/audit/views", map[string]any{
			"resource_type": "accounts.User", "resource_id": "42", "denied": denied,
		}, token)
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	}

	views, err := s.store.List(context.Background(), audit.Filter{Actions: []audit.Action{audit.ActionView}})
	s.Require().NoError(err)
	s.Len(views, 2)
	denials, err := s.store.List(context.Background(), audit.Filter{Actions: []audit.Action{audit.ActionAccessDenied}})
	s.Require().NoError(err)
	s.Require().Len(denials, 1)
	s.Equal("u-2", denials[0].ActorID())
	s.Empty(denials[0].Changes)
}

func (s *HandlerSuite) TestListEntries_Filters() {
	s.record(map[string]any{"resource_type": "accounts.User", "resource_id": "1", "action": "create", "new": map[string]any{"name": "a"}})
	s.record(map[string]any{"resource_type": "accounts.User", "resource_id": "2", "action": "create", "new": map[string]any{"name": "b"}})
	s.post("/audit/views", map[string]any{"resource_type": "accounts.User", "resource_id": "1"}, "")

	s.Run("newest first", func() {
		rr := s.get("/audit/entries")
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[ListResponse](s.T(), rr)
		s.Require().Equal(3, resp.Count)
		s.Equal(audit.ActionView, resp.Entries[0].Action)
		s.Equal("", resp.Entries[0].Summary)
	})

	s.Run("by resource and action", func() {
		rr := s.get("/audit/entries?resource_type=accounts.User&resource_id=1&action=create,CREATE")
		resp := testutil.UnmarshalResponse[ListResponse](s.T(), rr)
		s.Require().Equal(1, resp.Count)
		s.Equal("1", resp.Entries[0].Resource)
	})

	s.Run("limit", func() {
		rr := s.get("/audit/entries?limit=2")
		resp := testutil.UnmarshalResponse[ListResponse](s.T(), rr)
		s.Equal(2, resp.Count)
	})

	for _, q := range []string{"action=archive", "limit=0", "limit=x", "since=yesterday"} {
		s.Run("rejects "+q, func() {
			rr := s.get("/audit/entries?" + q)
			testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
		})
	}
}

func (s *HandlerSuite) TestGetEntry() {
	created := s.record(map[string]any{
		"resource_type": "accounts.User", "resource_id": "5", "action": "update",
		"old": map[string]any{"name": "a", "ssn": "111"},
		"new": map[string]any{"name": "b", "ssn": "222"},
	})

	rr := s.get("/audit/entries/" + created.ID)
	testutil.AssertStatusOK(s.T(), rr)
	resp := testutil.UnmarshalResponse[EntryDetailResponse](s.T(), rr)
	s.Equal([4]string{"#", "Field", "From", "To"}, resp.Header)
	s.Require().Len(resp.Changes.Rows, 2)
	s.Equal("name", resp.Changes.Rows[0].Field)
	s.Equal("b", *resp.Changes.Rows[0].New)
	s.Equal("ssn", resp.Changes.Rows[1].Field)
	s.Equal(redact.Mask, *resp.Changes.Rows[1].Old)

	s.Run("unknown id", func() {
		rr := s.get("/audit/entries/0190a0b2-7c3d-7000-8000-000000000000")
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})

	s.Run("malformed id", func() {
		rr := s.get("/audit/entries/not-a-uuid")
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})
}

func (s *HandlerSuite) TestTrackReads() {
	s.router = s.newRouter(true)
	created := s.record(map[string]any{"resource_type": "accounts.User", "resource_id": "5", "action": "create", "new": map[string]any{"name": "a"}})

	testutil.AssertStatusOK(s.T(), s.get("/audit/entries/"+created.ID))
	testutil.AssertStatusOK(s.T(), s.get("/audit/entries?resource_type=accounts.User"))
	testutil.AssertStatus(s.T(), s.get("/audit/entries/0190a0b2-7c3d-7000-8000-000000000000"), http.StatusNotFound)

	views, err := s.store.List(context.Background(), audit.Filter{ResourceType: string(EntryResourceType)})
	s.Require().NoError(err)
	s.Require().Len(views, 2)
	s.Equal("entries?resource_type=accounts.User", views[0].ResourceRepr)
	s.Require().NotNil(views[1].ResourceID)
	s.Equal(created.ID, *views[1].ResourceID)
}

func (s *HandlerSuite) TestHealth() {
	rr := s.get("/healthz")
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "healthy", true)
}

func TestHealth_FailingCheck(t *testing.T) {
	store := memory.NewInMemoryStore()
	reg := registry.New()
	h := NewHandler(store, writer.New(reg, store), reg,
		WithHealthCheck("redis", func(context.Context) error { return errors.New("down") }))

	rr := testutil.DoRequest(NewRouter(h, RouterOptions{}), testutil.NewRequest(t, http.MethodGet, "/healthz"))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := testutil.UnmarshalResponse[map[string]any](t, rr)
	assert.Equal(t, map[string]any{"redis": "unavailable"}, (*body)["checks"])
}

func TestRecordEvent_StoreUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Append(gomock.Any(), gomock.Any()).Return(audit.LogEntry{}, errors.New("connection refused"))

	reg := registry.New(registry.Registration{Type: "accounts.User"})
	h := NewHandler(store, writer.New(reg, store), reg)
	req := testutil.NewJSONRequest(t, http.MethodPost, "/audit/events", map[string]any{
		"resource_type": "accounts.User", "resource_id": "1", "action": "create",
		"new": map[string]any{"name": "a"},
	})
	rr := testutil.DoRequest(NewRouter(h, RouterOptions{}), req)

	testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
	errResp := testutil.UnmarshalErrorResponse(t, rr)
	require.Equal(t, "unavailable", errResp["error"])
	assert.NotContains(t, errResp, "error_description")
}
