package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsociety/portal/internal/models"
)

func newWatchServer(t *testing.T, svc *Service) string {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws/payments/:trackingId", NewHandler(svc, nil).Watch(NewUpgrader(nil)))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/payments/"
}

func dial(t *testing.T, url string) *websocket.Conn {
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWatch_ClosingSocketStopsPolling(t *testing.T) {
	f := newServiceFixture(t)
	intent, err := f.svc.InitiateRegistrationPayment(context.Background(), f.pendingRegistration().ID)
	require.NoError(t, err)
	base := newWatchServer(t, f.svc)

	conn := dial(t, base+intent.OrderTrackingID)
	require.True(t, f.svc.Registry().Running(intent.OrderTrackingID))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return !f.svc.Registry().Running(intent.OrderTrackingID)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.regs.finalizeCount())
}

func TestWatch_StreamsUntilFinalized(t *testing.T) {
	f := newServiceFixture(t, pending(), completed())
	intent, err := f.svc.InitiateRegistrationPayment(context.Background(), f.pendingRegistration().ID)
	require.NoError(t, err)
	base := newWatchServer(t, f.svc)
	conn := dial(t, base+intent.OrderTrackingID+"?merchant_reference="+intent.MerchantReference)

	go func() {
		_, _ = f.svc.CheckNow(context.Background(), intent.OrderTrackingID, intent.MerchantReference)
		_, _ = f.svc.CheckNow(context.Background(), intent.OrderTrackingID, intent.MerchantReference)
	}()

	var stages []string
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev StatusEvent
		if err := conn.ReadJSON(&ev); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
			break
		}
		stages = append(stages, ev.Stage)
	}
	assert.Equal(t, []string{StageStatus, StageStatus, StageFinalized}, stages)
	assert.Equal(t, 1, f.regs.finalizeCount())
}

func TestWatch_SettledPaymentGetsFinalEvent(t *testing.T) {
	f := newServiceFixture(t)
	reg := f.pendingRegistration()
	intent, err := f.svc.InitiateRegistrationPayment(context.Background(), reg.ID)
	require.NoError(t, err)
	f.svc.Registry().Stop(intent.OrderTrackingID)
	f.regs.regs[reg.ID].PaymentStatus = models.PaymentStatusCompleted
	base := newWatchServer(t, f.svc)

	conn := dial(t, base+intent.OrderTrackingID)
	var ev StatusEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, StageFinalized, ev.Stage)
	assert.Equal(t, models.PaymentStatusCompleted, ev.Status)
	assert.False(t, f.svc.Registry().Running(intent.OrderTrackingID))
}

func TestWatch_UnknownPayment(t *testing.T) {
	f := newServiceFixture(t)
	base := newWatchServer(t, f.svc)

	_, resp, err := websocket.DefaultDialer.Dial(base+"unknown", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
