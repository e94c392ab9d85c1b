// Command rotation-race presents the same refresh token from many goroutines
// at once and checks that every family has exactly one winning rotation and
// that the losers are reported as compromised.
//
//	go run ./cmd/rotation-race -families 500 -racers 16
//	go run ./cmd/rotation-race -store sqlite -sqlite /tmp/race.db
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MrEthical07/dmarcauth/jwt"
	"github.com/MrEthical07/dmarcauth/ledger"
	"github.com/MrEthical07/dmarcauth/storage/gormstore"
)

type raceResult struct {
	wins        int64
	compromised int64
	other       int64
	latencies   []time.Duration
}

func main() {
	var (
		families  = flag.Int("families", 200, "number of token families to race")
		racers    = flag.Int("racers", 16, "concurrent rotations per family")
		storeKind = flag.String("store", "memory", "token store: memory or sqlite")
		dbPath    = flag.String("sqlite", "rotation-race.db", "sqlite file for -store sqlite")
	)
	flag.Parse()

	if *families <= 0 || *racers <= 1 {
		fmt.Fprintln(os.Stderr, "families must be > 0 and racers > 1")
		os.Exit(2)
	}

	store, cleanup, err := openStore(*storeKind, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	l, err := newLedger(store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	fmt.Printf("racing %d families x %d rotations on %s store\n", *families, *racers, *storeKind)

	var (
		res     raceResult
		badFams []string
	)
	start := time.Now()
	for i := 0; i < *families; i++ {
		pair, err := l.Issue(ctx, jwt.Subject{UserID: fmt.Sprintf("user-%d", i), Role: "analyst"})
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		wins := raceFamily(ctx, l, pair, *racers, &res)
		if wins != 1 {
			badFams = append(badFams, pair.FamilyID)
		}
	}
	total := time.Since(start)

	fmt.Println("---- results ----")
	fmt.Printf("rotations=%d wins=%d compromised=%d other=%d total=%s\n",
		len(res.latencies), res.wins, res.compromised, res.other, total.Round(time.Millisecond))
	printLatency(res.latencies)

	if len(badFams) > 0 || res.other > 0 {
		fmt.Fprintf(os.Stderr, "FAIL: %d families without a single winner, %d unexpected errors\n", len(badFams), res.other)
		os.Exit(1)
	}
	fmt.Println("OK: one winner per family")
}

func raceFamily(ctx context.Context, l *ledger.Ledger, pair ledger.Pair, racers int, res *raceResult) int64 {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int64
		ready = make(chan struct{})
	)
	for w := 0; w < racers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ready
			t0 := time.Now()
			_, err := l.Rotate(ctx, pair.RefreshToken, pair.AccessToken, "10.0.0.1")
			d := time.Since(t0)

			switch {
			case err == nil:
				atomic.AddInt64(&wins, 1)
				atomic.AddInt64(&res.wins, 1)
			case errors.Is(err, ledger.ErrSessionCompromised):
				atomic.AddInt64(&res.compromised, 1)
			default:
				atomic.AddInt64(&res.other, 1)
			}
			mu.Lock()
			res.latencies = append(res.latencies, d)
			mu.Unlock()
		}()
	}
	close(ready)
	wg.Wait()
	return wins
}

func newLedger(store ledger.Store) (*ledger.Ledger, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    secret,
		Issuer:        "rotation-race",
		Audience:      "rotation-race",
	})
	if err != nil {
		return nil, err
	}

	subjects := ledger.SubjectLoaderFunc(func(_ context.Context, userID string) (jwt.Subject, error) {
		return jwt.Subject{UserID: userID, Role: "analyst"}, nil
	})
	theft := ledger.NewTheftResponder(store, ledger.TheftPolicy{Enabled: true, InvalidateFamily: true}, nil, nil, nil)
	return ledger.New(store, tokens, subjects, ledger.Options{Theft: theft}), nil
}

func openStore(kind, path string) (ledger.Store, func(), error) {
	switch kind {
	case "memory":
		return ledger.NewMemoryStore(), func() {}, nil
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		// sqlite serializes writers; one connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
		if err := gormstore.AutoMigrate(db); err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		return gormstore.NewRefreshTokens(db), func() { _ = sqlDB.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", kind)
	}
}

func printLatency(samples []time.Duration) {
	if len(samples) == 0 {
		return
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	fmt.Printf("rotate: p50=%s p95=%s p99=%s\n",
		percentile(samples, 50).Round(time.Microsecond),
		percentile(samples, 95).Round(time.Microsecond),
		percentile(samples, 99).Round(time.Microsecond),
	)
}

func percentile(samples []time.Duration, p int) time.Duration {
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}
