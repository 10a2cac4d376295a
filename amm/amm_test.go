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

package amm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/diggi-project/diggicore/msg"
	"github.com/diggi-project/diggicore/pool"
	"github.com/diggi-project/diggicore/ring"
)

func newTestAMM(t *testing.T) (*AMM, *ring.Ring) {
	t.Helper()
	inbox := ring.New(16, 1, 1)
	p := pool.New(16, 1, 64)
	a := New(0, inbox, p, nil, nil, nil)
	return a, inbox
}

func TestDeferredDeliveryDrainsOnRegister(t *testing.T) {
	a, inbox := newTestAMM(t)
	m := a.Allocate()
	m.Type = msg.Regular
	m.ID = 1
	inbox.Push(0, m)

	a.dispatch(inbox.Pop(0).(*msg.Msg))

	delivered := make(chan *msg.Msg, 1)
	a.RegisterType(msg.Regular, func(m *msg.Msg) { delivered <- m })

	select {
	case got := <-delivered:
		require.Equal(t, m, got)
	case <-time.After(time.Second):
		t.Fatal("deferred message was not delivered after handler registration")
	}
}

func TestSendAsyncCorrelatesReplyByID(t *testing.T) {
	a, inbox := newTestAMM(t)
	a.RegisterRoute(msg.Aid{}, inbox)

	replied := make(chan *msg.Msg, 1)
	req := a.Allocate()
	req.ID = 77
	ok := a.SendAsync(req, func(m *msg.Msg, err error) { replied <- m })
	require.True(t, ok)

	reply := inbox.Pop(0)
	a.dispatch(reply.(*msg.Msg))

	select {
	case got := <-replied:
		require.Equal(t, req, got)
	case <-time.After(time.Second):
		t.Fatal("flow continuation was not invoked")
	}
}

func TestEndAsyncCancelsPendingFlow(t *testing.T) {
	a, _ := newTestAMM(t)
	m := a.Allocate()
	m.ID = 5

	var gotErr error
	a.mu.Lock()
	a.flowHandler[m.ID] = func(m *msg.Msg, err error) { gotErr = err }
	a.mu.Unlock()

	a.EndAsync(5, assertCanceled)
	require.Equal(t, assertCanceled, gotErr)
}

var assertCanceled = &canceledErr{}

type canceledErr struct{}

func (*canceledErr) Error() string { return "canceled" }

func TestStopReleasesDeferredMessages(t *testing.T) {
	a, inbox := newTestAMM(t)
	m := a.Allocate()
	m.Type = msg.Regular
	inbox.Push(0, m)
	a.dispatch(inbox.Pop(0).(*msg.Msg))

	require.Len(t, a.deferred, 1)
	a.Stop()
	require.Len(t, a.deferred, 0)
}

func TestGetVirtualMessageIDDisjointFromLoggedIDs(t *testing.T) {
	a, _ := newTestAMM(t)
	logged := a.GetMessageID()
	virtual := a.GetVirtualMessageID()
	require.NotEqual(t, logged, virtual)
	require.Greater(t, virtual, uint64(1<<63))
}
