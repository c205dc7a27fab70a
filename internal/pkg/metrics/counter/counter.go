package counter

import (
	"context"
	"strconv"
	"time"

	"github.com/hyeonwooshin/CareBridge/internal/pkg/cache"
)

const (
	settledPaymentsKey = "payments:counters:settled"
	tokenDeductsKey    = "tokens:counters:deducted"
	tokenRefundsKey    = "tokens:counters:refunded"
)

// AddSettledPayment increments today's settled-payment counter in Redis
func AddSettledPayment() error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, settledPaymentsKey, dayField(time.Now()), 1).Err()
}

// AddTokenDeduct increments today's interview-token deduct counter in Redis
func AddTokenDeduct() error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, tokenDeductsKey, dayField(time.Now()), 1).Err()
}

// AddTokenRefund increments today's interview-token refund counter in Redis
func AddTokenRefund() error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, tokenRefundsKey, dayField(time.Now()), 1).Err()
}

// Totals sums every per-day field of the three event counters. Missing keys
// count as zero.
func Totals() (settled, deducted, refunded int64, err error) {
	settled, err = sumHash(settledPaymentsKey)
	if err != nil {
		return 0, 0, 0, err
	}
	deducted, err = sumHash(tokenDeductsKey)
	if err != nil {
		return 0, 0, 0, err
	}
	refunded, err = sumHash(tokenRefundsKey)
	if err != nil {
		return 0, 0, 0, err
	}
	return settled, deducted, refunded, nil
}

func sumHash(redisKey string) (int64, error) {
	ctx := context.Background()
	data, err := cache.GetClient().HGetAll(ctx, redisKey).Result()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		total += n
	}
	return total, nil
}

func dayField(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
