package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/property-listings/internal/audit"
	"github.com/aman-churiwal/property-listings/internal/models"
	"github.com/aman-churiwal/property-listings/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// Bodies larger than this are refused on routes counted by username or email
const maxKeyBodyBytes = 64 << 10

const unavailableMessage = "Rate limiting is temporarily unavailable. Please try again later."

// Body encodings accepted on routes counted by username or email. The auth
// handlers bind with the same gin bindings, so the identifiers counted here
// are the ones the handler acts on.
var keyBindings = map[string]binding.BindingBody{
	binding.MIMEJSON:     binding.JSON,
	binding.MIMEPOSTForm: postFormBinding{},
}

// Identifiers a client can submit in a login or password reset body
type keyFields struct {
	Username string `json:"username" form:"username"`
	Email    string `json:"email" form:"email"`
}

type RateLimitOptions struct {
	// Let requests through when the counter store cannot be reached
	FailOpen bool
	Recorder *audit.Recorder
	Now      func() time.Time
}

// Counts the request against every rule of class. Exceeding any of them
// answers 429; a store failure answers 503 unless FailOpen is set. A panic
// in the check always answers 503.
func RateLimit(policy *ratelimit.Policy, class string, opts RateLimitOptions) gin.HandlerFunc {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	needsBody := false
	for _, scope := range policy.Scopes(class) {
		if scope == ratelimit.ScopeUsername || scope == ratelimit.ScopeEmail {
			needsBody = true
		}
	}

	return func(c *gin.Context) {
		logger := securityLogger()

		subject := ratelimit.Subject{IP: c.ClientIP()}
		if needsBody {
			fields, status := readKeyFields(c.Request)
			if status != 0 {
				rejectBody(c, status)
				return
			}
			subject.Username = fields.Username
			subject.Email = fields.Email
		}

		decision, err := evaluate(c.Request.Context(), policy, class, subject)

		var panicked errGatePanic
		if errors.As(err, &panicked) {
			logger.Error("rate limit check panicked",
				"class", class,
				"error", err,
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP(),
				"request_id", c.GetString(ContextRequestID),
			)

			event := newSecurityEvent(c, models.EventGateFailure)
			event.Rule = class
			opts.Recorder.Record(event)

			unavailable(c)
			return
		}

		if err != nil {
			logger.Error("rate limit check failed",
				"class", class,
				"fail_open", opts.FailOpen,
				"error", err,
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP(),
				"request_id", c.GetString(ContextRequestID),
			)

			event := newSecurityEvent(c, models.EventStoreDegraded)
			event.Rule = class
			opts.Recorder.Record(event)

			if opts.FailOpen {
				c.Next()
				return
			}

			unavailable(c)
			return
		}

		if decision.Evaluated() {
			c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		}

		if decision.Allowed {
			c.Next()
			return
		}

		retryAfter := int(math.Ceil(decision.RetryAfter(opts.Now()).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}

		logger.Warn("rate limit exceeded",
			"class", class,
			"rule", decision.Rule,
			"limit", decision.Limit,
			"retry_after", retryAfter,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
			"request_id", c.GetString(ContextRequestID),
		)

		event := newSecurityEvent(c, models.EventRateLimited)
		event.Rule = decision.Rule
		opts.Recorder.Record(event)

		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "rate_limit_exceeded",
			"message": decision.Message,
		})
		c.Abort()
	}
}

func unavailable(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
		"error":   "rate_limit_unavailable",
		"message": unavailableMessage,
	})
}

func rejectBody(c *gin.Context, status int) {
	switch status {
	case http.StatusUnsupportedMediaType:
		c.AbortWithStatusJSON(status, gin.H{
			"error":   "unsupported_media_type",
			"message": "Send the body as JSON or as a URL-encoded form.",
		})
	case http.StatusRequestEntityTooLarge:
		c.AbortWithStatusJSON(status, gin.H{
			"error":   "request_too_large",
			"message": "Request body is too large.",
		})
	default:
		c.AbortWithStatusJSON(status, gin.H{"error": "Invalid request body"})
	}
}

// Evaluates subject, reporting a panic as errGatePanic
func evaluate(ctx context.Context, policy *ratelimit.Policy, class string, subject ratelimit.Subject) (decision ratelimit.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errGatePanic{value: r}
		}
	}()

	return policy.Evaluate(ctx, class, subject)
}

type errGatePanic struct {
	value any
}

func (e errGatePanic) Error() string {
	return "rate limit check panicked: " + toString(e.value)
}

func toString(v any) string {
	switch t := v.(type) {
	case error:
		return t.Error()
	case string:
		return t
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// Reads username and email from the body and puts the bytes back so the
// handler can bind them again. A non-zero status means the body cannot be
// inspected and the request must be refused with it. A body that does not
// decode yields no identifiers; the handler rejects it the same way.
func readKeyFields(r *http.Request) (keyFields, int) {
	var fields keyFields
	if r.Body == nil || r.Body == http.NoBody {
		return fields, 0
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return fields, http.StatusUnsupportedMediaType
	}
	b, ok := keyBindings[mediaType]
	if !ok {
		return fields, http.StatusUnsupportedMediaType
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, maxKeyBodyBytes+1))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
	if err != nil {
		return fields, http.StatusBadRequest
	}
	if len(buf) > maxKeyBodyBytes {
		return fields, http.StatusRequestEntityTooLarge
	}

	if b.BindBody(buf, &fields) != nil {
		return keyFields{}, 0
	}
	return fields, 0
}

// binding.FormPost reads from a request; this runs it over a buffered body
type postFormBinding struct{}

func (postFormBinding) Name() string {
	return binding.FormPost.Name()
}

func (postFormBinding) Bind(req *http.Request, obj any) error {
	return binding.FormPost.Bind(req, obj)
}

func (postFormBinding) BindBody(body []byte, obj any) error {
	req, err := http.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", binding.MIMEPOSTForm)
	return binding.FormPost.Bind(req, obj)
}
