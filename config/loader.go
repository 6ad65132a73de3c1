package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	Port string

	// Upstream trading agent feed
	AgentFeedURL    string
	AgentBaseDelay  time.Duration
	AgentMaxRetries int

	// Token gate
	GateTokenMint    string
	GateMinUSD       float64
	GateSessionTTL   time.Duration
	GateCookieSecret string
	CookieSecure     bool
	VerifyPerMinute  float64
	VerifyBurst      int

	// Session store (memory when RedisAddr is empty)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Price providers
	BirdeyeBaseURL string
	BirdeyeAPIKey  string
	PriceCacheTTL  time.Duration

	// Header ticker feed
	TickerSymbols []string
}

// LoadConfig loads variables from .env and returns a Config struct
func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("⚠️  Warning: .env file not found. Relying on system environment variables.")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	feedURL := os.Getenv("AGENT_FEED_URL")
	if feedURL == "" {
		log.Println("⚠️  AGENT_FEED_URL missing. Agent feed disabled.")
	}

	mint := os.Getenv("GATE_TOKEN_MINT")
	if mint == "" {
		log.Println("⚠️  CRITICAL: GATE_TOKEN_MINT missing! Holdings lookups will fail.")
	}

	secret := os.Getenv("GATE_COOKIE_SECRET")
	if secret == "" {
		secret = randomSecret()
		log.Println("⚠️  GATE_COOKIE_SECRET missing. Generated an ephemeral one, sessions will not survive a restart.")
	}

	birdeyeKey := os.Getenv("BIRDEYE_API_KEY")
	if birdeyeKey == "" {
		log.Println("⚠️  BIRDEYE_API_KEY missing. Falling back to keyless price providers.")
	}

	birdeyeBase := os.Getenv("BIRDEYE_BASE_URL")
	if birdeyeBase == "" {
		birdeyeBase = "https://public-api.birdeye.so"
	}

	// Parse Gate Threshold (USD)
	minUSDStr := os.Getenv("GATE_MIN_USD")
	minUSD := 100.0
	if minUSDStr != "" {
		if val, err := strconv.ParseFloat(minUSDStr, 64); err == nil {
			minUSD = val
		}
	}

	// Parse Session Duration
	sessionMinStr := os.Getenv("GATE_SESSION_MINUTES")
	sessionMin := 240
	if sessionMinStr != "" {
		if val, err := strconv.Atoi(sessionMinStr); err == nil {
			sessionMin = val
		}
	}

	// Parse Verify Rate Limit (requests per minute per wallet)
	verifyRateStr := os.Getenv("GATE_VERIFY_PER_MINUTE")
	verifyRate := 6.0
	if verifyRateStr != "" {
		if val, err := strconv.ParseFloat(verifyRateStr, 64); err == nil {
			verifyRate = val
		}
	}

	verifyBurstStr := os.Getenv("GATE_VERIFY_BURST")
	verifyBurst := 3
	if verifyBurstStr != "" {
		if val, err := strconv.Atoi(verifyBurstStr); err == nil {
			verifyBurst = val
		}
	}

	// Parse Agent Stream Tuning
	baseDelayStr := os.Getenv("AGENT_BASE_DELAY_MS")
	baseDelayMs := 3000
	if baseDelayStr != "" {
		if val, err := strconv.Atoi(baseDelayStr); err == nil {
			baseDelayMs = val
		}
	}

	maxRetriesStr := os.Getenv("AGENT_MAX_RETRIES")
	maxRetries := 10
	if maxRetriesStr != "" {
		if val, err := strconv.Atoi(maxRetriesStr); err == nil {
			maxRetries = val
		}
	}

	// Parse Price Cache TTL
	cacheSecStr := os.Getenv("PRICE_CACHE_SECONDS")
	cacheSec := 30
	if cacheSecStr != "" {
		if val, err := strconv.Atoi(cacheSecStr); err == nil {
			cacheSec = val
		}
	}

	// Parse Redis DB index
	redisDBStr := os.Getenv("REDIS_DB")
	redisDB := 0
	if redisDBStr != "" {
		if val, err := strconv.Atoi(redisDBStr); err == nil {
			redisDB = val
		}
	}

	// Parse Ticker Symbols
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	if raw := os.Getenv("TICKER_SYMBOLS"); raw != "" {
		symbols = nil
		for _, s := range strings.Split(raw, ",") {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s != "" {
				symbols = append(symbols, s)
			}
		}
	}

	return &Config{
		Port:             port,
		AgentFeedURL:     feedURL,
		AgentBaseDelay:   time.Duration(baseDelayMs) * time.Millisecond,
		AgentMaxRetries:  maxRetries,
		GateTokenMint:    mint,
		GateMinUSD:       minUSD,
		GateSessionTTL:   time.Duration(sessionMin) * time.Minute,
		GateCookieSecret: secret,
		CookieSecure:     os.Getenv("COOKIE_SECURE") == "true",
		VerifyPerMinute:  verifyRate,
		VerifyBurst:      verifyBurst,
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          redisDB,
		BirdeyeBaseURL:   birdeyeBase,
		BirdeyeAPIKey:    birdeyeKey,
		PriceCacheTTL:    time.Duration(cacheSec) * time.Second,
		TickerSymbols:    symbols,
	}
}

// randomSecret builds a throwaway signing key for dev setups that never
// configured one.
func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("❌ Failed to generate cookie secret: %v", err)
	}
	return hex.EncodeToString(buf)
}
