package webhooks

import (
	"io"
	"net/http"

	"github.com/mercatto/commerce-core/api/responses"
	internalpayments "github.com/mercatto/commerce-core/internal/payments"
	"github.com/mercatto/commerce-core/pkg/enums"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
	"github.com/mercatto/commerce-core/pkg/logger"
)

const squareSignatureHeader = "X-Square-Hmacsha256-Signature"

// SquareWebhook feeds Square payment notifications into the reconciler.
func SquareWebhook(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := r.Header.Get(squareSignatureHeader)
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "square signature missing"))
			return
		}

		if err := svc.HandleWebhook(ctx, enums.PaymentMethodSquare, payload, signature); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}
