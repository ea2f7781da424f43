package telephony

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"strings"

	"callsync/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// SignatureMiddleware rejects provider webhooks whose X-Twilio-Signature does not match.
// Form posts are signed over URL plus sorted parameters; any other body must be pinned by
// the bodySHA256 query parameter.
//
// publicBaseURL is the externally visible scheme+host Twilio was configured with; the request
// URI is appended to it because proxies rewrite Host.
func SignatureMiddleware(authToken, publicBaseURL string) gin.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	return func(c *gin.Context) {
		log := logger.FromGin(c)
		fullURL := base + c.Request.URL.RequestURI()
		sig := c.GetHeader(SignatureHeader)

		var ok bool
		if isForm(c.Request) {
			if err := c.Request.ParseForm(); err != nil {
				log.Warn("twilio webhook parse failed", "err", err)
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
				return
			}
			ok = ValidSignature(authToken, fullURL, c.Request.PostForm, sig)
		} else {
			body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
			if err != nil {
				log.Warn("twilio webhook read failed", "err", err)
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
			ok = ValidBodySignature(authToken, fullURL, body, sig)
		}

		if !ok {
			log.Warn("twilio signature rejected", "url", fullURL)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}

func isForm(r *http.Request) bool {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data"
}
