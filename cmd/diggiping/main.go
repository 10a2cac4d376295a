// Copyright (C) 2026 diggi-project contributors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// diggiping stands up two trusted-runtime instances in one process,
// attests and keys them, then pings one against the other: every
// payload is sealed, dispatched through the async layer, decrypted on
// arrival, echoed back, and checked byte-for-byte against what was
// sent.
package main

import (
	"bytes"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/diggi-project/diggicore/aead"
	"github.com/diggi-project/diggicore/attestation"
	"github.com/diggi-project/diggicore/config"
	"github.com/diggi-project/diggicore/diggierr"
	"github.com/diggi-project/diggicore/internal/runtime"
	"github.com/diggi-project/diggicore/mmngr"
	"github.com/diggi-project/diggicore/msg"
	"github.com/diggi-project/diggicore/smm"
)

// instance bundles one endpoint's thread-safe façade and its own Aid.
// Each instance runs a single thread (thread index 0), matching the
// original runtime's one-thread-per-enclave-worker demo topology.
type instance struct {
	aid msg.Aid
	m   *mmngr.MMngr
}

func newInstance(self msg.Aid, rt *runtime.Runtime) *instance {
	return &instance{aid: self, m: mmngr.Create(1, 256, 64, 512, self, attestation.Null{}, rt)}
}

func sendPing(from, to *instance, payload []byte) bool {
	replyCh := make(chan []byte, 1)
	errCh := make(chan error, 1)

	err := from.m.Send(0, to.aid, msg.Regular, payload, func(reply *msg.Msg, sendErr error) {
		if sendErr != nil {
			errCh <- sendErr
			return
		}
		fromSMM, err := from.m.SMM(0)
		if err != nil {
			errCh <- err
			return
		}
		env, err := msg.UnmarshalEncryptedEnvelope(reply.Payload)
		if err != nil {
			errCh <- err
			return
		}
		ready, err := fromSMM.Decrypt(to.aid, reply.SessionCount, env)
		if err != nil {
			errCh <- err
			return
		}
		if len(ready) == 0 {
			errCh <- fmt.Errorf("reply arrived out of order")
			return
		}
		replyCh <- ready[0]
	})
	// Send's "transparently queued" result means the ping is already on
	// its way (replayed once the handshake completes); any other error
	// is a real failure.
	if err != nil && !errors.Is(err, diggierr.ErrHandshakePending) {
		fmt.Printf("\nsend error: %v\n", err)
		return false
	}

	select {
	case got := <-replyCh:
		if bytes.Equal(got, payload) {
			return true
		}
		fmt.Printf("\nreply payload mismatch: got %x want %x\n", got, payload)
		return false
	case err := <-errCh:
		fmt.Printf("\nreply error: %v\n", err)
		return false
	case <-time.After(time.Second):
		fmt.Printf("\ntimed out waiting for reply\n")
		return false
	}
}

func sendPings(from, to *instance, count, concurrency int) {
	fmt.Printf("Sending %d pings from %s to %s\n", count, from.aid, to.aid)

	var passed, failed uint64
	wg := new(sync.WaitGroup)
	sem := make(chan struct{}, concurrency)

	for i := 0; i < count; i++ {
		sem <- struct{}{}
		wg.Add(1)

		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			payload := make([]byte, 64)
			if _, err := rand.Read(payload); err != nil {
				panic(err)
			}
			if sendPing(from, to, payload) {
				fmt.Printf("!")
				atomic.AddUint64(&passed, 1)
			} else {
				fmt.Printf("~")
				atomic.AddUint64(&failed, 1)
			}
		}()
	}
	fmt.Printf("\n")

	wg.Wait()

	percent := (float64(passed) * float64(100)) / float64(count)
	fmt.Printf("Success rate is %f percent (%d/%d)\n", percent, passed, count)
}

func main() {
	count := flag.Int("count", 10, "number of pings to send")
	concurrency := flag.Int("concurrency", 4, "number of pings in flight at once")
	flag.Parse()

	// Each instance gets its own Runtime rather than sharing one: a real
	// deployment runs one enclave per process, so one Runtime per process
	// is the right granularity, but this demo simulates two instances in
	// one process, and a shared Prometheus registry would double-register
	// the same thread-0 metric names the moment both instances start.
	aRt := runtime.New(config.Default())
	bRt := runtime.New(config.Default())
	logger := aRt.Log

	aAid := msg.Aid{Proc: 1, Type: msg.Proc}
	bAid := msg.Aid{Proc: 2, Type: msg.Proc}

	a := newInstance(aAid, aRt)
	b := newInstance(bAid, bRt)
	defer a.m.Stop()
	defer b.m.Stop()

	aAMM, err := a.m.AMM(0)
	if err != nil {
		logger.Fatal("resolving A's dispatcher", "err", err)
	}
	bAMM, err := b.m.AMM(0)
	if err != nil {
		logger.Fatal("resolving B's dispatcher", "err", err)
	}

	// cross-wire: A's route to B lands on B's inbox and vice versa, so
	// Send on either side lands in the other's poll loop.
	aAMM.RegisterRoute(bAid, bAMM.Inbox())
	bAMM.RegisterRoute(aAid, aAMM.Inbox())

	// A trusted root would push this GroupKeyBundle to every attested
	// instance in the group over the session-request wire path; here
	// a single process plays both the root and the two peers, so the
	// key is generated once and installed on both instances directly,
	// bypassing the pairwise handshake this null attestation backend
	// cannot actually transport a key through.
	key, err := aead.GenerateKey()
	if err != nil {
		logger.Fatal("generating group key", "err", err)
	}
	bundle := &smm.GroupKeyBundle{GroupID: 1, Key: key, Generation: 1}
	encoded, err := smm.MarshalGroupKeyBundle(bundle)
	if err != nil {
		logger.Fatal("marshaling group key bundle", "err", err)
	}
	decoded, err := smm.UnmarshalGroupKeyBundle(encoded)
	if err != nil {
		logger.Fatal("unmarshaling group key bundle", "err", err)
	}

	aSMM, err := a.m.SMM(0)
	if err != nil {
		logger.Fatal("resolving A's secure layer", "err", err)
	}
	bSMM, err := b.m.SMM(0)
	if err != nil {
		logger.Fatal("resolving B's secure layer", "err", err)
	}
	// InstallSessionKey wipes the key slice it is given, so A installs a
	// copy and B the original.
	if err := aSMM.InstallSessionKey(bAid, append([]byte(nil), decoded.Key...)); err != nil {
		logger.Fatal("installing session key on A", "err", err)
	}
	if err := bSMM.InstallSessionKey(aAid, decoded.Key); err != nil {
		logger.Fatal("installing session key on B", "err", err)
	}

	// B's echo handler replies with the same msg.ID so A's flow
	// continuation (registered by façade Send above) correlates the
	// reply — the §4.3 "reply-allocation variant" of allocate, which
	// copies routing/identity fields from the request rather than
	// minting a fresh one the way a plain façade Send does.
	if err := b.m.RegisterType(0, msg.Regular, func(from msg.Aid, plaintext []byte, m *msg.Msg) {
		reenv, counter, err := bSMM.Encrypt(from, plaintext)
		if err != nil {
			logger.Error("re-encrypt failed", "err", err)
			return
		}
		reply, err := b.m.Allocate(0)
		if err != nil {
			logger.Error("allocating reply", "err", err)
			return
		}
		reply.Type = msg.Regular
		reply.Src = b.aid
		reply.Dest = from
		reply.ID = m.ID
		reply.SessionCount = counter
		reply.Delivery = msg.Encrypted
		reply.Payload = reenv.Marshal()
		reply.Size = uint32(msg.HeaderSize + len(reply.Payload))
		bAMM.Send(reply)
	}); err != nil {
		logger.Fatal("registering echo handler", "err", err)
	}

	sendPings(a, b, *count, *concurrency)
}
