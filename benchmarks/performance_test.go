// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for hioload-chat components.

package benchmarks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-chat/command"
	"github.com/momentics/hioload-chat/fake"
	"github.com/momentics/hioload-chat/internal/chat"
	"github.com/momentics/hioload-chat/internal/concurrency"
	"github.com/momentics/hioload-chat/internal/credentials"
	"github.com/momentics/hioload-chat/internal/session"
	"github.com/momentics/hioload-chat/protocol"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// BenchmarkFrameRoundTrip encodes a masked frame and decodes it again.
func BenchmarkFrameRoundTrip(b *testing.B) {
	for _, size := range []int{16, 1024, 65536} {
		b.Run(fmt.Sprint(size), func(b *testing.B) {
			payload := []byte(strings.Repeat("x", size))
			key := [4]byte{1, 2, 3, 4}
			buf := make([]byte, 0, protocol.MaxFrameHeaderLen+size)
			b.SetBytes(int64(size))
			b.ReportAllocs()
			for b.Loop() {
				raw := protocol.EncodeFrame(buf[:0], true, protocol.OpcodeText, payload, &key)
				if _, _, err := protocol.DecodeFrame(raw, 0); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkDeframeFragmented reassembles a message split into 8 frames.
func BenchmarkDeframeFragmented(b *testing.B) {
	payload := []byte(strings.Repeat("chat ", 1024))
	var raw []byte
	for _, f := range protocol.Enframe(payload, protocol.OpcodeText, len(payload)/8, true) {
		raw = append(raw, f...)
	}
	var asm protocol.Assembler
	h := protocol.Handlers{Text: func(string) error { return nil }}
	b.SetBytes(int64(len(payload)))
	b.ReportAllocs()
	for b.Loop() {
		if err := asm.Deframe(raw, h); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCommandParse measures decoding a typical room message.
func BenchmarkCommandParse(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		if _, err := command.Parse("CMD=MSG;MSG=hello everyone in the room"); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkExecutorSubmit tests worker pool throughput with keyed tasks.
func BenchmarkExecutorSubmit(b *testing.B) {
	ex := concurrency.NewExecutor(4, 1024, quiet)
	defer ex.Close()
	var wg sync.WaitGroup
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		var key uint64
		for pb.Next() {
			key++
			wg.Add(1)
			if err := ex.Submit(key, wg.Done); err != nil {
				wg.Done()
			}
		}
	})
	wg.Wait()
}

// BenchmarkSessionStore creates and removes sessions across shards.
func BenchmarkSessionStore(b *testing.B) {
	st := session.NewStore(session.DefaultShards)
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			name := fmt.Sprintf("user%d", i%512)
			s := st.Create(name, uint64(i), chat.LobbyStage)
			st.Remove(name, s.ID())
			i++
		}
	})
}

// BenchmarkRoomMultiplex fans one message out to a room of 32 members
// over the in-memory network.
func BenchmarkRoomMultiplex(b *testing.B) {
	const members = 32
	net := fake.NewNetwork()
	ln := net.NewListener("bench:0")
	store := credentials.NewMemoryStore()
	users := map[string]string{}
	for i := range members {
		users[fmt.Sprintf("m%d", i)] = "pw"
	}
	if _, err := credentials.Seed(context.Background(), store, credentials.PlainHasher{}, users); err != nil {
		b.Fatal(err)
	}
	svc, err := chat.NewService(chat.Config{
		Listener:    ln,
		Credentials: store,
		Hasher:      credentials.PlainHasher{},
		NewPoller:   net.NewPoller,
		Logger:      quiet,
	})
	if err != nil {
		b.Fatal(err)
	}
	if err := svc.Start(); err != nil {
		b.Fatal(err)
	}
	defer svc.Shutdown(context.Background())
	room, err := svc.Rooms().Create("bench")
	if err != nil {
		b.Fatal(err)
	}

	peers := make([]*fake.Conn, members)
	for i := range peers {
		peers[i] = net.Dial(ln, "bench")
		peers[i].Feed(fake.UpgradeRequest())
		peers[i].Feed(fake.ClientText(fmt.Sprintf("CMD=LOG_IN;UNAME=m%d;PSSWRD=pw", i)))
		peers[i].Feed(fake.ClientText("CMD=JOIN_CHT;CHAT_NAME=bench"))
	}
	deadline := time.Now().Add(10 * time.Second)
	for room.Registry().Len() < members {
		if time.Now().After(deadline) {
			b.Fatalf("only %d members joined", room.Registry().Len())
		}
		time.Sleep(time.Millisecond)
	}

	msg := fake.ClientText("CMD=MSG;MSG=benchmark")
	b.ResetTimer()
	for b.Loop() {
		want := room.Stats().Messages + 1
		peers[0].Feed(msg)
		for room.Stats().Messages < want {
			runtime.Gosched()
		}
	}
}
