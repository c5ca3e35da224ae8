package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr      string
	DBDSN         string
	JWTIssuer     string
	JWTSecret     string
	JWTTTL        time.Duration
	CryptoFeedURL string
	Trading       Trading
}

func Load() (Config, error) {
	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.DBDSN = os.Getenv("DB_DSN")
	if c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	jwtTTL := os.Getenv("JWT_TTL")
	if jwtTTL == "" {
		missing = append(missing, "JWT_TTL")
	} else {
		d, err := time.ParseDuration(jwtTTL)
		if err != nil {
			return c, err
		}
		c.JWTTTL = d
	}
	// Crypto price feed is optional: without it push-mode triggering is off.
	c.CryptoFeedURL = os.Getenv("CRYPTO_FEED_URL")
	t, err := loadTrading()
	if err != nil {
		return c, err
	}
	c.Trading = t
	if len(missing) > 0 {
		return c, errors.New("missing required env: " + join(missing))
	}
	return c, nil
}

func loadTrading() (Trading, error) {
	t := DefaultTrading()
	if v := os.Getenv("TRADING_HOURS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return t, errors.New("invalid TRADING_HOURS_ENABLED")
		}
		t.HoursEnabled = b
	}
	if v := os.Getenv("TRADING_MAX_LEVERAGE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n < 1 {
			return t, errors.New("invalid TRADING_MAX_LEVERAGE")
		}
		t.MaxLeverage = int32(n)
	}
	if v := os.Getenv("TRADING_TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return t, errors.New("invalid TRADING_TICK_INTERVAL")
		}
		t.TickInterval = d
	}
	if v := os.Getenv("TRADING_CRYPTO_SETTLE_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return t, errors.New("invalid TRADING_CRYPTO_SETTLE_DELAY")
		}
		t.CryptoSettleDelay = d
	}
	return t, nil
}

func join(items []string) string {
	if len(items) == 0 {
		return ""
	}
	out := items[0]
	for i := 1; i < len(items); i++ {
		out += "," + items[i]
	}
	return out
}
