package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vecinoapp/vecino-core/internal/gateway"
	"github.com/vecinoapp/vecino-core/pkg/models"
)

func newClient(t *testing.T, baseURL string) *gateway.Client {
	t.Helper()
	c, err := gateway.NewClient(baseURL, 5*time.Second, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestGetVerificationStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/verification/status", r.URL.Path)
		assert.Equal(t, "ana@example.com", r.URL.Query().Get("email"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"rejected","rejectionReason":"document unreadable"}`))
	}))
	defer srv.Close()

	resp, err := newClient(t, srv.URL).GetVerificationStatus(context.Background(), "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.VerificationRejected, resp.Status)
	assert.Equal(t, "document unreadable", resp.RejectionReason)
}

func TestGetVerificationStatusUnauthenticatedMapsToNotStarted(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		resp, err := newClient(t, srv.URL).GetVerificationStatus(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, models.VerificationNotStarted, resp.Status)
		srv.Close()
	}
}

func TestGetVerificationStatusServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).GetVerificationStatus(context.Background(), "")
	assert.Error(t, err)
}

func TestSubmitVerificationSingleMultipartRequest(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/verification/documents", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		for _, field := range []string{"idFront", "idBack", "facePhoto"} {
			_, _, err := r.FormFile(field)
			assert.NoError(t, err, "missing multipart file %s", field)
		}
		assert.Equal(t, "ana@example.com", r.FormValue("email"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"documents received"}`))
	}))
	defer srv.Close()

	resp, err := newClient(t, srv.URL).SubmitVerification(context.Background(), &gateway.SubmitVerificationRequest{
		IDFront:   []byte("front"),
		IDBack:    []byte("back"),
		FacePhoto: []byte("face"),
		Email:     "ana@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "documents received", resp.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests), "all artifacts must travel in one request")
}

func TestSubmitVerificationRequiresAllArtifacts(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).SubmitVerification(context.Background(), &gateway.SubmitVerificationRequest{
		IDFront: []byte("front"),
	})
	assert.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&requests))
}

func TestGetPaymentStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/payments/status", r.URL.Path)
		assert.Equal(t, "tok-123", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"paymentId": "pay-9",
			"status": "completed",
			"packageType": "contact_unlock",
			"amount": 1990,
			"publicationsAdded": 0,
			"targetName": "Ana",
			"targetPhone": "+56912345678"
		}`))
	}))
	defer srv.Close()

	ticket, err := newClient(t, srv.URL).GetPaymentStatus(context.Background(), "tok-123")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", ticket.Token)
	assert.Equal(t, models.PaymentCompleted, ticket.Status)
	assert.Equal(t, models.PurposeContactUnlock, ticket.Purpose())
	assert.Equal(t, "1990", ticket.Amount.String())
	assert.Equal(t, "Ana", ticket.TargetName)
}

func TestGetPaymentStatusUnknownStatusIsNonTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"paymentId":"pay-9","status":"in_review","packageType":"job_pack"}`))
	}))
	defer srv.Close()

	ticket, err := newClient(t, srv.URL).GetPaymentStatus(context.Background(), "tok-123")
	require.NoError(t, err)
	assert.False(t, ticket.Status.Terminal())
}

func TestGetPaymentStatusRequiresToken(t *testing.T) {
	_, err := newClient(t, "http://localhost:1").GetPaymentStatus(context.Background(), "")
	assert.Error(t, err)
}
