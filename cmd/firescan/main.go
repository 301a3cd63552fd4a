// Command firescan queries the FIRMS hotspot feed for a bounding box and
// prints the detections. Useful for checking API keys and feed coverage
// without standing up the full service.
//
// Usage:
//
//	go run ./cmd/firescan -west 27.0 -south 45.0 -east 28.0 -north 46.0 -days 3
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/pireu2/spotyfire-backend/internal/adapter/firms"
	"github.com/pireu2/spotyfire-backend/internal/config"
	"github.com/pireu2/spotyfire-backend/internal/domain"
	"github.com/pireu2/spotyfire-backend/internal/observability"
)

func main() {
	west := flag.Float64("west", 0, "western longitude of the bounding box")
	south := flag.Float64("south", 0, "southern latitude of the bounding box")
	east := flag.Float64("east", 0, "eastern longitude of the bounding box")
	north := flag.Float64("north", 0, "northern latitude of the bounding box")
	days := flag.Int("days", 3, "day range ending today (clamped to 1..10)")
	endDate := flag.String("end-date", "", "last day of the range, YYYY-MM-DD (default today)")
	verbose := flag.Bool("v", false, "log client activity")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}

	bbox := domain.BBox{West: *west, South: *south, East: *east, North: *north}
	if err := bbox.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	end := time.Now().UTC()
	if *endDate != "" {
		end, err = time.Parse("2006-01-02", *endDate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: invalid -end-date: %v\n", err)
			os.Exit(1)
		}
	}

	logOut := io.Discard
	if *verbose {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelDebug}))

	client := firms.NewClient(cfg.FIRMSAPIKey, cfg.FIRMSSource, cfg.FIRMSBaseURL, cfg.FIRMSTimeout,
		logger, observability.NewMetrics())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.FIRMSTimeout+5*time.Second)
	defer cancel()

	data, err := client.ActiveFires(ctx, bbox, end, *days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: query fires: %v\n", err)
		os.Exit(1)
	}

	if data.Degraded {
		fmt.Println("WARNING: feed unavailable, showing placeholder data")
	}
	fmt.Printf("%d detection(s) in [%s] over %d day(s) ending %s\n\n",
		len(data.Points), bbox.String(), *days, end.Format("2006-01-02"))

	fmt.Printf("  %-10s %-10s %-12s %s\n", "LAT", "LON", "CONFIDENCE", "BRIGHTNESS")
	for _, p := range data.Points {
		fmt.Printf("  %-10.4f %-10.4f %-12s %.1f\n", p.Lat, p.Lon, p.Confidence, p.Brightness)
	}
}
