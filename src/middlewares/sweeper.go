package middlewares

import (
	"etix/src/common"
	"log"
	"math"
	"time"

	"github.com/gin-gonic/gin"
)

// CheckoutSessionCookie carries the opaque checkout session id through the
// funnel.
const CheckoutSessionCookie = "checkout_session"

// SessionSweeper runs on every request and clears staged checkout entries
// whose TTL has elapsed. Best-effort by contract: nothing here may fail or
// delay the request.
func SessionSweeper(ctx *gin.Context) {
	sid, err := ctx.Cookie(CheckoutSessionCookie)
	if err != nil || sid == "" {
		ctx.Next()
		return
	}
	now := time.Now()
	cleared := common.SweepExpiredEntries(ctx.Request.Context(), sid, now)
	for entry, past := range cleared {
		minutes := int(math.Ceil(past.Minutes()))
		log.Printf("[sweeper] Cleared expired %s ip=%s route=%s expired_minutes_ago=%d\n",
			entry, ctx.ClientIP(), ctx.FullPath(), minutes)
	}
	ctx.Next()
}
