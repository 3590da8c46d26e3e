package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/graphsync/entity"
)

// capturedRequest is what the fake backend saw.
type capturedRequest struct {
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	RequestID     string         `json:"-"`
	Auth          string         `json:"-"`
}

// fakeBackend serves a fixed status and body and records requests.
func fakeBackend(t *testing.T, status int, body string) (*httptest.Server, *[]capturedRequest, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	var seen []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var req capturedRequest
		require.NoError(t, json.Unmarshal(data, &req))
		req.RequestID = r.Header.Get("X-Request-ID")
		req.Auth = r.Header.Get("Authorization")
		seen = append(seen, req)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen, &hits
}

func newTestDispatcher(t *testing.T, spec ContainerSpec, url string, opts ...GraphQLOption) *GraphQLDispatcher {
	t.Helper()
	opts = append([]GraphQLOption{
		WithTimeout(2 * time.Second),
		WithDispatcherLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	d, err := NewGraphQLDispatcher(spec, StaticEndpoint(url), opts...)
	require.NoError(t, err)
	return d
}

func TestNewGraphQLDispatcher(t *testing.T) {
	_, err := NewGraphQLDispatcher(GroupSpec, nil)
	assert.Error(t, err)

	bad := GroupSpec
	bad.EditField = ""
	_, err = NewGraphQLDispatcher(bad, StaticEndpoint("http://localhost"))
	assert.Error(t, err)

	d, err := NewGraphQLDispatcher(ReportSpec, StaticEndpoint("http://localhost"))
	require.NoError(t, err)
	assert.Equal(t, "reportEdit", d.Spec().EditField)
}

func TestGraphQLDispatcher_AddEdge(t *testing.T) {
	body := `{"data":{"groupEdit":{"relationAdd":{
		"id":"rel-1",
		"from":{"id":"user-c","entity_type":"User","name":"Carol","user_email":"carol@example.com"},
		"to":{"id":"group-1","entity_type":"Group","name":"Analysts"}
	}}}}`
	srv, seen, _ := fakeBackend(t, http.StatusOK, body)
	d := newTestDispatcher(t, GroupSpec, srv.URL, WithHeader("Authorization", "Bearer token"))

	vars := NewAddEdge("group-1", "user-c", DirectionFrom, entity.RelMemberOf)
	payload, err := d.Commit(context.Background(), OpAddEdge, vars)
	require.NoError(t, err)

	assert.Equal(t, "group-1", payload.ID)
	require.NotNil(t, payload.Container)
	assert.Equal(t, entity.KindGroup, payload.Container.Kind)
	require.NotNil(t, payload.Counterpart)
	assert.Equal(t, "user-c", payload.Counterpart.ID)
	assert.Equal(t, "Carol", payload.Counterpart.Name)
	email, ok := payload.Counterpart.Field("user_email")
	assert.True(t, ok)
	assert.Equal(t, "carol@example.com", email)
	assert.NotEmpty(t, payload.RequestID)
	assert.Equal(t, entity.Ref{ID: "user-c", Kind: entity.KindUser}, payload.CounterpartRef(vars))

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	assert.Equal(t, "RelationAdd", req.OperationName)
	assert.Equal(t, GroupSpec.AddDocument(), req.Query)
	assert.Equal(t, "group-1", req.Variables["id"])
	assert.Equal(t, map[string]any{"fromId": "user-c", "relationship_type": "member-of"}, req.Variables["input"])
	assert.Equal(t, payload.RequestID, req.RequestID)
	assert.Equal(t, "Bearer token", req.Auth)
}

func TestGraphQLDispatcher_AddEdgeToSide(t *testing.T) {
	body := `{"data":{"reportEdit":{"relationAdd":{
		"id":"rel-9",
		"from":{"id":"report-1","entity_type":"Report","name":"Q3"},
		"to":{"id":"malware-1","entity_type":"Malware","name":"Emotet"}
	}}}}`
	srv, seen, _ := fakeBackend(t, http.StatusOK, body)
	d := newTestDispatcher(t, ReportSpec, srv.URL)

	vars := NewAddEdge("report-1", "malware-1", DirectionTo, entity.RelObject)
	payload, err := d.Commit(context.Background(), OpAddEdge, vars)
	require.NoError(t, err)

	assert.Equal(t, "report-1", payload.Container.ID)
	assert.Equal(t, "malware-1", payload.Counterpart.ID)
	assert.Equal(t, entity.KindMalware, payload.Counterpart.Kind)
	assert.Equal(t, map[string]any{"toId": "malware-1", "relationship_type": "object"}, (*seen)[0].Variables["input"])
}

func TestGraphQLDispatcher_DeleteEdge(t *testing.T) {
	body := `{"data":{"groupEdit":{"relationDelete":{"id":"group-1","entity_type":"Group","name":"Analysts"}}}}`
	srv, seen, _ := fakeBackend(t, http.StatusOK, body)
	d := newTestDispatcher(t, GroupSpec, srv.URL)

	vars := NewDeleteEdge("group-1", "user-a", DirectionFrom, entity.RelMemberOf)
	payload, err := d.Commit(context.Background(), OpDeleteEdge, vars)
	require.NoError(t, err)

	assert.Equal(t, "group-1", payload.ID)
	require.NotNil(t, payload.Container)
	assert.Equal(t, "Analysts", payload.Container.Name)
	assert.Nil(t, payload.Counterpart)
	assert.Equal(t, entity.Ref{ID: "user-a"}, payload.CounterpartRef(vars))

	req := (*seen)[0]
	assert.Equal(t, "RelationDelete", req.OperationName)
	assert.Equal(t, map[string]any{
		"id":                "group-1",
		"fromId":            "user-a",
		"relationship_type": "member-of",
	}, req.Variables)
}

func TestGraphQLDispatcher_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		op       Operation
		reason   Reason
		code     string
		sentinel error
	}{
		{
			name:   "validation code",
			status: http.StatusOK,
			body:   `{"errors":[{"message":"bad input","extensions":{"code":"VALIDATION_ERROR"}}]}`,
			op:     OpAddEdge,
			reason: ReasonValidation,
			code:   "VALIDATION_ERROR",
		},
		{
			name:   "already exists is a conflict",
			status: http.StatusOK,
			body:   `{"errors":[{"message":"relation exists","extensions":{"code":"ALREADY_EXISTS"}}],"data":null}`,
			op:     OpAddEdge,
			reason: ReasonConflict,
			code:   "ALREADY_EXISTS",
		},
		{
			name:   "error name used when code is absent",
			status: http.StatusOK,
			body:   `{"errors":[{"message":"gone","name":"NOT_FOUND"}]}`,
			op:     OpDeleteEdge,
			reason: ReasonConflict,
			code:   "NOT_FOUND",
		},
		{
			name:   "unknown code",
			status: http.StatusOK,
			body:   `{"errors":[{"message":"kaboom","extensions":{"code":"INTERNAL_SERVER_ERROR"}}]}`,
			op:     OpAddEdge,
			reason: ReasonUnknown,
			code:   "INTERNAL_SERVER_ERROR",
		},
		{
			name:   "server error is network",
			status: http.StatusBadGateway,
			body:   `upstream unavailable`,
			op:     OpAddEdge,
			reason: ReasonNetwork,
		},
		{
			name:   "bad request without graphql body",
			status: http.StatusBadRequest,
			body:   `nope`,
			op:     OpAddEdge,
			reason: ReasonValidation,
		},
		{
			name:   "conflict status",
			status: http.StatusConflict,
			body:   ``,
			op:     OpDeleteEdge,
			reason: ReasonConflict,
		},
		{
			name:   "forbidden status",
			status: http.StatusForbidden,
			body:   `{}`,
			op:     OpAddEdge,
			reason: ReasonUnknown,
		},
		{
			name:     "empty response",
			status:   http.StatusOK,
			body:     `{}`,
			op:       OpAddEdge,
			reason:   ReasonUnknown,
			sentinel: ErrNoData,
		},
		{
			name:     "malformed json",
			status:   http.StatusOK,
			body:     `{"data":`,
			op:       OpAddEdge,
			reason:   ReasonUnknown,
			sentinel: errBadResponse,
		},
		{
			name:     "missing edit field",
			status:   http.StatusOK,
			body:     `{"data":{"otherEdit":{}}}`,
			op:       OpAddEdge,
			reason:   ReasonUnknown,
			sentinel: ErrNoData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := fakeBackend(t, tt.status, tt.body)
			d := newTestDispatcher(t, GroupSpec, srv.URL)

			var vars Variables = NewAddEdge("group-1", "user-c", DirectionFrom, entity.RelMemberOf)
			if tt.op == OpDeleteEdge {
				vars = NewDeleteEdge("group-1", "user-a", DirectionFrom, entity.RelMemberOf)
			}

			payload, err := d.Commit(context.Background(), tt.op, vars)
			require.Error(t, err)
			assert.Nil(t, payload)

			var me *MutationError
			require.True(t, errors.As(err, &me))
			assert.Equal(t, tt.reason, me.Reason)
			assert.Equal(t, tt.op, me.Op)
			assert.Equal(t, vars, me.Variables)
			assert.Equal(t, tt.code, me.Code)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
		})
	}
}

func TestGraphQLDispatcher_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	d := newTestDispatcher(t, GroupSpec, url)
	vars := NewAddEdge("group-1", "user-c", DirectionFrom, entity.RelMemberOf)

	_, err := d.Commit(context.Background(), OpAddEdge, vars)
	require.Error(t, err)
	assert.Equal(t, ReasonNetwork, ReasonOf(err))

	var me *MutationError
	require.True(t, errors.As(err, &me))
	assert.True(t, me.Retryable())
}

func TestGraphQLDispatcher_EndpointUnavailable(t *testing.T) {
	d := newTestDispatcher(t, GroupSpec, "")
	vars := NewAddEdge("group-1", "user-c", DirectionFrom, entity.RelMemberOf)

	_, err := d.Commit(context.Background(), OpAddEdge, vars)
	assert.Equal(t, ReasonNetwork, ReasonOf(err))
}

func TestGraphQLDispatcher_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	d := newTestDispatcher(t, GroupSpec, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := d.Commit(ctx, OpAddEdge, NewAddEdge("group-1", "user-c", DirectionFrom, entity.RelMemberOf))
	require.Error(t, err)
	assert.Equal(t, ReasonNetwork, ReasonOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGraphQLDispatcher_ValidatesBeforeRequest(t *testing.T) {
	srv, _, hits := fakeBackend(t, http.StatusOK, `{}`)
	d := newTestDispatcher(t, GroupSpec, srv.URL)

	tests := []struct {
		name string
		op   Operation
		vars Variables
	}{
		{"missing counterpart", OpAddEdge, NewAddEdge("group-1", "", DirectionFrom, entity.RelMemberOf)},
		{"operation mismatch", OpDeleteEdge, NewAddEdge("group-1", "user-c", DirectionFrom, entity.RelMemberOf)},
		{"wrong side for container", OpAddEdge, NewAddEdge("group-1", "user-c", DirectionTo, entity.RelMemberOf)},
		{"nil variables", OpAddEdge, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Commit(context.Background(), tt.op, tt.vars)
			require.Error(t, err)
			assert.Equal(t, ReasonValidation, ReasonOf(err))
		})
	}
	assert.Zero(t, hits.Load(), "no request should reach the backend")
}

func TestGraphQLDispatcher_BreakerOpens(t *testing.T) {
	srv, _, hits := fakeBackend(t, http.StatusServiceUnavailable, `down`)
	d := newTestDispatcher(t, GroupSpec, srv.URL, WithBreakerSettings(gobreaker.Settings{
		Name:    "test",
		Timeout: time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 2
		},
	}))
	vars := NewAddEdge("group-1", "user-c", DirectionFrom, entity.RelMemberOf)

	name, state := d.Breaker()
	assert.Equal(t, "test", name)
	assert.Equal(t, gobreaker.StateClosed, state)

	for i := 0; i < 2; i++ {
		_, err := d.Commit(context.Background(), OpAddEdge, vars)
		assert.Equal(t, ReasonNetwork, ReasonOf(err))
		assert.NotErrorIs(t, err, ErrBreakerOpen)
	}

	_, err := d.Commit(context.Background(), OpAddEdge, vars)
	require.Error(t, err)
	assert.Equal(t, ReasonNetwork, ReasonOf(err))
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, int32(2), hits.Load())

	_, state = d.Breaker()
	assert.Equal(t, gobreaker.StateOpen, state)
}

func TestGraphQLDispatcher_CancellationKeepsBreakerClosed(t *testing.T) {
	srv, _, _ := fakeBackend(t, http.StatusOK, `{"data":{"groupEdit":{"relationDelete":{"id":"group-1","entity_type":"Group"}}}}`)
	d := newTestDispatcher(t, GroupSpec, srv.URL, WithBreakerSettings(gobreaker.Settings{
		Name:    "test",
		Timeout: time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 1
		},
	}))
	vars := NewDeleteEdge("group-1", "user-c", DirectionFrom, entity.RelMemberOf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		_, err := d.Commit(ctx, OpDeleteEdge, vars)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrBreakerOpen)
	}

	_, state := d.Breaker()
	assert.Equal(t, gobreaker.StateClosed, state)

	payload, err := d.Commit(context.Background(), OpDeleteEdge, vars)
	require.NoError(t, err)
	assert.Equal(t, "group-1", payload.ID)
}

func TestGraphQLDispatcher_ClientErrorsKeepBreakerClosed(t *testing.T) {
	srv, _, hits := fakeBackend(t, http.StatusOK,
		`{"errors":[{"message":"bad","extensions":{"code":"BAD_USER_INPUT"}}]}`)
	d := newTestDispatcher(t, GroupSpec, srv.URL, WithBreakerSettings(gobreaker.Settings{
		Name: "test",
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 1
		},
	}))
	vars := NewAddEdge("group-1", "user-c", DirectionFrom, entity.RelMemberOf)

	for i := 0; i < 3; i++ {
		_, err := d.Commit(context.Background(), OpAddEdge, vars)
		assert.Equal(t, ReasonValidation, ReasonOf(err))
	}
	assert.Equal(t, int32(3), hits.Load())
	_, state := d.Breaker()
	assert.Equal(t, gobreaker.StateClosed, state)
}

func TestClassifyCode(t *testing.T) {
	assert.Equal(t, ReasonValidation, ClassifyCode("BAD_USER_INPUT"))
	assert.Equal(t, ReasonConflict, ClassifyCode("ALREADY_DELETED_ERROR"))
	assert.Equal(t, ReasonUnknown, ClassifyCode(""))
}

func TestStaticEndpoint(t *testing.T) {
	url, err := StaticEndpoint("http://api").Endpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://api", url)

	_, err = StaticEndpoint("").Endpoint(context.Background())
	assert.Error(t, err)
}

func TestDefaultBreakerSettings(t *testing.T) {
	s := DefaultBreakerSettings("graphql-groupEdit")
	assert.Equal(t, "graphql-groupEdit", s.Name)
	assert.False(t, s.ReadyToTrip(gobreaker.Counts{Requests: 4, TotalFailures: 4}))
	assert.True(t, s.ReadyToTrip(gobreaker.Counts{Requests: 5, TotalFailures: 4}))
	assert.False(t, s.ReadyToTrip(gobreaker.Counts{Requests: 10, TotalFailures: 7}))
}
