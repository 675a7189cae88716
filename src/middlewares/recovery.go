package middlewares

import (
	"etix/src/common"
	"etix/src/types"
	"etix/src/utils"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// Recovery wraps the checkout/payment pipeline. A panic or an error pushed
// onto the context is classified against the typed taxonomy, any staged
// session state is cleared so the client cannot resume from corrupted data,
// and the client gets a fixed safe message plus a redirect target resolved
// from the route or the session snapshot. The raw error never leaves the
// process.
func Recovery(ctx *gin.Context) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			log.Printf("[recovery] panic: %s\n%s", err.Error(), debug.Stack())
			respond(ctx, err)
		}
	}()
	ctx.Next()

	if len(ctx.Errors) > 0 && !ctx.Writer.Written() {
		respond(ctx, ctx.Errors.Last().Err)
	}
}

func respond(ctx *gin.Context, err error) {
	kind := types.Classify(err)
	message := types.UserMessage(kind)

	sid, _ := ctx.Cookie(CheckoutSessionCookie)
	var snapshot *common.CheckoutSession
	if sid != "" {
		snapshot, _ = common.LoadCheckoutSession(ctx.Request.Context(), sid, common.StagingRegistrationData)
		// A lock conflict is transient; the staged selection stays usable
		// for the retry. Everything else clears the funnel.
		if kind != types.KindLock {
			common.ClearCheckoutSession(ctx.Request.Context(), sid)
		}
	}

	eventID := eventIDFromRequest(ctx)
	if eventID == 0 && snapshot != nil {
		eventID = snapshot.EventID
	}
	redirectURL := utils.EventPagePath(eventID)

	log.Printf("[recovery] kind=%s url=%s method=%s ip=%s ua=%q session=%v err=%s\n",
		kind, ctx.Request.URL.String(), ctx.Request.Method, ctx.ClientIP(),
		ctx.Request.UserAgent(), sid != "", err.Error())

	status := http.StatusInternalServerError
	switch kind {
	case types.KindValidation:
		status = http.StatusBadRequest
	case types.KindLock:
		status = http.StatusConflict
	case types.KindSession:
		status = http.StatusGone
	}
	if wantsJSON(ctx) {
		ctx.AbortWithStatusJSON(status, gin.H{
			"success":      false,
			"message":      message,
			"redirect_url": redirectURL,
		})
		return
	}
	ctx.Redirect(http.StatusSeeOther, fmt.Sprintf("%s?error=%s", redirectURL, message))
	ctx.Abort()
}
