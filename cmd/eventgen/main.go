package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/tournament-engine/internal/channel"
	"github.com/tournament-engine/internal/worldgen"
)

// eventgen synthesizes complete session event streams onto the audit
// topic. It exercises the archive and arbitration path without needing
// live WebSocket clients.

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "session-events", "Kafka topic")
	totalSessions := flag.Int("sessions", 10, "Number of sessions to simulate")
	playersPerSession := flag.Int("players", 4, "Players per session (2-5)")
	movesPerPlayer := flag.Int("moves", 30, "Move messages per player")
	rate := flag.Int("rate", 200, "Messages per second")
	flag.Parse()

	if *playersPerSession < 2 || *playersPerSession > 5 {
		log.Fatalf("players must be between 2 and 5, got %d", *playersPerSession)
	}

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  🎮 Session Event Generator")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Sessions:         %d\n", *totalSessions)
	fmt.Printf("  Players/session:  %d\n", *playersPerSession)
	fmt.Printf("  Moves/player:     %d\n", *movesPerPlayer)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Create producer
	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		<-sigChan
		fmt.Println("\n\nShutting down...")
		close(done)
	}()

	interval := time.Second / time.Duration(*rate)

	// Send message helper, pacing at the requested rate
	send := func(env channel.Envelope) bool {
		data, err := json.Marshal(env)
		if err != nil {
			log.Printf("Failed to marshal event: %v", err)
			return true
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(env.SessionID),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
			return false
		}
		time.Sleep(interval)
		return true
	}

	for i := 0; i < *totalSessions; i++ {
		select {
		case <-done:
			i = *totalSessions
			continue
		default:
		}

		sessionID := uuid.New().String()
		if !simulateSession(sessionID, *playersPerSession, *movesPerPlayer, send) {
			break
		}
		fmt.Printf("  [%d/%d] session %s complete\n", i+1, *totalSessions, sessionID[:8])
	}

	producer.AsyncClose()
	wg.Wait()
	fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n",
		atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
}

// simulateSession emits one plausible full match: everyone readies up,
// the starter starts, players wander and drop bombs, bombs explode and
// eventually eliminate everyone but one.
func simulateSession(sessionID string, playerCount, movesPerPlayer int, send func(channel.Envelope) bool) bool {
	grid := worldgen.Generate(sessionID)

	players := make([]string, playerCount)
	for i := range players {
		players[i] = fmt.Sprintf("player-%s", uuid.New().String()[:8])
	}

	seq := int64(0)
	emit := func(p channel.Payload) bool {
		env, err := channel.NewEnvelope(sessionID, p)
		if err != nil {
			log.Printf("Failed to build event: %v", err)
			return true
		}
		seq++
		env.Seq = seq
		return send(env)
	}

	// Lobby phase
	for _, id := range players {
		if !emit(channel.Ready{PlayerID: id}) {
			return false
		}
	}
	if !emit(channel.Start{StartedAt: time.Now().UTC()}) {
		return false
	}

	// Play phase: interleaved moves and bombs
	alive := make(map[string]bool, playerCount)
	for _, id := range players {
		alive[id] = true
	}
	bombSerial := 0

	for m := 0; m < movesPerPlayer; m++ {
		for _, id := range players {
			if !alive[id] {
				continue
			}

			x := rand.Intn(worldgen.ArenaSize - worldgen.BlockSize)
			y := rand.Intn(worldgen.ArenaSize - worldgen.BlockSize)
			if !emit(channel.Move{PlayerID: id, X: x, Y: y}) {
				return false
			}

			// Occasional bomb with an immediate scripted outcome
			if rand.Intn(10) != 0 {
				continue
			}
			bombSerial++
			bombID := fmt.Sprintf("%s-b%d", sessionID[:8], bombSerial)
			if !emit(channel.BombPlaced{BombID: bombID, OwnerID: id, X: x, Y: y}) {
				return false
			}

			blast := channel.BombExploded{
				BombID:  bombID,
				OwnerID: id,
			}
			// Only report real obstacles as destroyed, matching what an
			// honest client would compute from the generated world.
			col, row := x/worldgen.BlockSize, y/worldgen.BlockSize
			if grid.Obstacle(col, row) {
				blast.AffectedBlocks = []worldgen.Block{{Col: col, Row: row}}
			}
			// Late in the match explosions start catching players, so
			// the stream converges on a single survivor.
			if m > movesPerPlayer/2 && countAlive(alive) > 1 {
				victim := pickVictim(alive, id)
				if victim != "" {
					blast.AffectedPlayers = []string{victim}
				}
			}
			if !emit(blast) {
				return false
			}
			for _, victim := range blast.AffectedPlayers {
				alive[victim] = false
				if !emit(channel.PlayerDied{PlayerID: victim}) {
					return false
				}
			}
		}
	}

	return true
}

func countAlive(alive map[string]bool) int {
	n := 0
	for _, a := range alive {
		if a {
			n++
		}
	}
	return n
}

// pickVictim returns a random living player other than the bomb owner.
func pickVictim(alive map[string]bool, owner string) string {
	candidates := make([]string, 0, len(alive))
	for id, a := range alive {
		if a && id != owner {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	return candidates[rand.Intn(len(candidates))]
}
