package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

const sampleInterval = 200 * time.Millisecond

type scenario string

const (
	scenarioNormal         scenario = "normal"
	scenarioSensorFailures scenario = "sensor_failures"
	scenarioGPSIssues      scenario = "gps_issues"
	scenarioChaos          scenario = "chaos"
)

type generator struct {
	scenario scenario
	rng      *rand.Rand

	sessionID   string
	sessionName string

	t              float64
	prevSpeed      float64
	energyJ        float64
	distanceM      float64
	messageID      int64
	baseLat        float64
	baseLon        float64
	baseAlt        float64
	stuckVoltage   *float64
	stuckTicksLeft int
}

func newGenerator(sc scenario, seed int64) *generator {
	return &generator{
		scenario:    sc,
		rng:         rand.New(rand.NewSource(seed)),
		sessionID:   uuid.NewString(),
		sessionName: fmt.Sprintf("mock-%s-%s", sc, time.Now().Format("20060102-150405")),
		baseLat:     12.9716,
		baseLon:     77.5946,
		baseAlt:     920.0,
	}
}

func (g *generator) next() map[string]interface{} {
	g.t++
	g.messageID++

	baseSpeed := 15.0 + 5.0*math.Sin(g.t*0.02)
	speed := math.Max(0, math.Min(25, baseSpeed+g.rng.NormFloat64()*1.4))

	voltage := math.Max(40, math.Min(55, 48.0+g.rng.NormFloat64()*1.4))
	current := math.Max(0, math.Min(15, 7.5+speed*0.2+g.rng.NormFloat64()*0.9))

	if g.scenario == scenarioSensorFailures || g.scenario == scenarioChaos {
		voltage = g.applyVoltageFailures(voltage)
	}

	power := voltage * current
	dt := sampleInterval.Seconds()
	g.energyJ += power * dt
	g.distanceM += speed * dt

	lat := g.baseLat + 0.001*math.Sin(g.t*0.01) + g.rng.NormFloat64()*0.0001
	lon := g.baseLon + 0.001*math.Cos(g.t*0.01) + g.rng.NormFloat64()*0.0001
	alt := g.baseAlt + 10.0*math.Sin(g.t*0.006) + g.rng.NormFloat64()

	if g.scenario == scenarioGPSIssues || g.scenario == scenarioChaos {
		if g.rng.Float64() < 0.02 {
			// GPS glitch: teleport a few hundred meters.
			lat += 0.01
			lon -= 0.01
		}
		if g.rng.Float64() < 0.01 {
			alt += 200
		}
	}

	turning := 2.0 * math.Sin(g.t*0.016)
	accelX := (speed-g.prevSpeed)/dt + g.rng.NormFloat64()*0.2
	g.prevSpeed = speed

	phase := (math.Sin(g.t*0.012) + 1) / 2
	throttle := math.Min(100, math.Max(5, 20+70*phase+g.rng.NormFloat64()*5))
	brake := math.Max(0, g.rng.NormFloat64()+2)
	if g.rng.Float64() < 0.03 {
		brake = math.Min(100, math.Max(15, 60+g.rng.NormFloat64()*15))
		throttle = math.Max(0, throttle-brake*0.6)
	}

	return map[string]interface{}{
		"timestamp":      time.Now().UTC().Format(time.RFC3339Nano),
		"session_id":     g.sessionID,
		"session_name":   g.sessionName,
		"message_id":     g.messageID,
		"data_source":    "MOCK_" + string(g.scenario),
		"speed_ms":       round2(speed),
		"voltage_v":      round2(voltage),
		"current_a":      round2(current),
		"power_w":        round2(power),
		"energy_j":       round2(g.energyJ),
		"distance_m":     round2(g.distanceM),
		"latitude":       lat,
		"longitude":      lon,
		"altitude":       round2(alt),
		"gyro_x":         round2(g.rng.NormFloat64() * 0.5),
		"gyro_y":         round2(g.rng.NormFloat64() * 0.3),
		"gyro_z":         round2(turning + g.rng.NormFloat64()*0.8),
		"accel_x":        round2(accelX),
		"accel_y":        round2(turning*speed*0.1 + g.rng.NormFloat64()*0.1),
		"accel_z":        round2(9.81 + g.rng.NormFloat64()*0.05),
		"throttle_pct":   round2(throttle),
		"brake_pct":      round2(brake),
		"uptime_seconds": g.t * dt,
	}
}

// applyVoltageFailures occasionally freezes the voltage sensor or
// drops it to an implausible reading.
func (g *generator) applyVoltageFailures(voltage float64) float64 {
	if g.stuckTicksLeft > 0 {
		g.stuckTicksLeft--
		return *g.stuckVoltage
	}
	switch {
	case g.rng.Float64() < 0.01:
		v := voltage
		g.stuckVoltage = &v
		g.stuckTicksLeft = 20 + g.rng.Intn(20)
		return v
	case g.rng.Float64() < 0.005:
		return 5.0 // sensor brown-out
	default:
		return voltage
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func main() {
	var (
		scenarioFlag = flag.String("scenario", "normal", "normal | sensor_failures | gps_issues | chaos")
		count        = flag.Int("count", 0, "messages to publish (0 = until interrupted)")
		seed         = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file — using system environment variables")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     feedGetEnv("REDIS_ADDR", "localhost:6379"),
		Password: feedGetEnv("REDIS_PASSWORD", ""),
	})
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Redis connection failed: %v", err)
	}

	channel := feedGetEnv("INGEST_CHANNEL", "telemetry:ingest")
	gen := newGenerator(scenario(*scenarioFlag), *seed)
	fmt.Printf("Publishing %s telemetry to %q as session %s\n", gen.scenario, channel, gen.sessionID)

	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	published := 0
	for {
		select {
		case <-ticker.C:
			payload, err := json.Marshal(gen.next())
			if err != nil {
				log.Printf("marshal failed: %v", err)
				continue
			}
			if err := client.Publish(ctx, channel, payload).Err(); err != nil {
				log.Printf("publish failed: %v", err)
				continue
			}
			published++
			if *count > 0 && published >= *count {
				fmt.Printf("Published %d messages\n", published)
				return
			}

		case <-ctx.Done():
			fmt.Printf("\nPublished %d messages\n", published)
			return
		}
	}
}

func feedGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
