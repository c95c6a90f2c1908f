package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/telecare/telecare-platform/pkg/logging"
)

// VelocityChecker rate-limits checkout session creation per patient. A slot is
// held the moment a booking commits, so unbounded checkout attempts would let
// one patient lock a doctor's whole calendar behind sessions they never pay.
type VelocityChecker struct {
	redis  *redis.Client
	logger *logging.Logger
	config VelocityConfig
}

// VelocityConfig contains velocity check limits.
type VelocityConfig struct {
	MaxCheckoutsPerPatient int
	CheckoutWindow         time.Duration
	Enabled                bool
}

// DefaultVelocityConfig returns default velocity limits.
func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{
		MaxCheckoutsPerPatient: 5,
		CheckoutWindow:         time.Hour,
		Enabled:                true,
	}
}

// VelocityResult contains the result of a velocity check.
type VelocityResult struct {
	Allowed      bool
	CurrentCount int
	MaxAllowed   int
	WindowExpiry time.Time
	Message      string
}

// NewVelocityChecker creates a velocity checker backed by Redis.
func NewVelocityChecker(redisClient *redis.Client, config VelocityConfig, logger *logging.Logger) *VelocityChecker {
	if logger == nil {
		logger = logging.Default()
	}
	return &VelocityChecker{
		redis:  redisClient,
		logger: logger,
		config: config,
	}
}

// CheckCheckoutVelocity reports whether the patient may open another checkout
// session. Redis being unreachable fails open.
func (v *VelocityChecker) CheckCheckoutVelocity(ctx context.Context, patientID string) (*VelocityResult, error) {
	ctx, span := stripeTracer.Start(ctx, "velocity.check_checkout")
	defer span.End()
	span.SetAttributes(attribute.String("telecare.patient_id", patientID))

	if !v.config.Enabled {
		return &VelocityResult{Allowed: true}, nil
	}

	key := fmt.Sprintf("velocity:checkout:%s", patientID)

	count, expiry, err := v.incrementAndGet(ctx, key, v.config.CheckoutWindow)
	if err != nil {
		v.logger.Error("velocity check failed", "error", err, "key", key)
		// Fail open - allow the checkout if Redis is down
		return &VelocityResult{Allowed: true, Message: "velocity check unavailable"}, nil
	}

	result := &VelocityResult{
		Allowed:      count <= v.config.MaxCheckoutsPerPatient,
		CurrentCount: count,
		MaxAllowed:   v.config.MaxCheckoutsPerPatient,
		WindowExpiry: expiry,
	}

	if !result.Allowed {
		result.Message = fmt.Sprintf("exceeded %d checkout attempts in %s", v.config.MaxCheckoutsPerPatient, v.config.CheckoutWindow)
		v.logger.Warn("checkout velocity exceeded",
			"patient_id", patientID,
			"count", count,
			"max", v.config.MaxCheckoutsPerPatient,
		)
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
	}

	return result, nil
}

// incrementAndGet increments a counter and returns the new value with expiry time.
func (v *VelocityChecker) incrementAndGet(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}

	// Set expiry only on first increment
	if count == 1 {
		v.redis.Expire(ctx, key, window)
	}

	ttl, err := v.redis.TTL(ctx, key).Result()
	if err != nil {
		ttl = window
	}

	return int(count), time.Now().Add(ttl), nil
}

// ResetCheckoutVelocity resets the checkout counter for a patient (admin use).
func (v *VelocityChecker) ResetCheckoutVelocity(ctx context.Context, patientID string) error {
	key := fmt.Sprintf("velocity:checkout:%s", patientID)
	return v.redis.Del(ctx, key).Err()
}

// GetCheckoutStats returns current checkout velocity stats for a patient.
func (v *VelocityChecker) GetCheckoutStats(ctx context.Context, patientID string) (*VelocityResult, error) {
	key := fmt.Sprintf("velocity:checkout:%s", patientID)

	count, err := v.redis.Get(ctx, key).Int()
	if err == redis.Nil {
		return &VelocityResult{
			Allowed:    true,
			MaxAllowed: v.config.MaxCheckoutsPerPatient,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	ttl, _ := v.redis.TTL(ctx, key).Result()

	return &VelocityResult{
		Allowed:      count < v.config.MaxCheckoutsPerPatient,
		CurrentCount: count,
		MaxAllowed:   v.config.MaxCheckoutsPerPatient,
		WindowExpiry: time.Now().Add(ttl),
	}, nil
}
