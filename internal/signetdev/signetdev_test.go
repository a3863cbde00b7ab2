package signetdev

import (
	"bytes"
	"context"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signet/internal/account"
	"signet/internal/keyboard"
)

func newEmulatedClient(t *testing.T) (*Client, *Emulator) {
	t.Helper()
	clientSide, deviceSide := net.Pipe()
	emu := NewEmulator(nil)
	go emu.Serve(deviceSide)

	c := NewClient(clientSide, ClientConfig{RequestTimeout: 2 * time.Second})
	t.Cleanup(func() { c.Close() })
	return c, emu
}

// =============================================================================
// Framing
// =============================================================================

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	f := NewFrame(CmdTypeRaw, 42, []byte{1, 2, 3})
	require.NoError(t, f.Write(&buf))
	assert.Equal(t, HeaderSize+3, buf.Len())
	assert.Equal(t, []byte("SGNT"), buf.Bytes()[:4])

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, CmdTypeRaw, got.Header.Command)
	assert.Equal(t, uint32(42), got.Header.Token)
	assert.Equal(t, []byte{1, 2, 3}, got.Payload)
	assert.False(t, got.IsResponse())
}

func TestFrame_Rejects(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFrame(CmdStartup, 1, nil).Write(&buf))
	raw := buf.Bytes()
	raw[0] = 'X'
	_, err := ReadFrame(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrBadMagic)

	buf.Reset()
	require.NoError(t, NewFrame(CmdStartup, 1, nil).Write(&buf))
	raw = buf.Bytes()
	raw[4] = ProtocolVersion + 1
	_, err = ReadFrame(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrBadVersion)

	err = NewFrame(CmdSetKeyboardLayout, 1, make([]byte, MaxPayload+1)).Write(io.Discard)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestPayloads(t *testing.T) {
	p, err := EncodeTypeRaw([]byte{2, 4, 2, 0}, 2)
	require.NoError(t, err)
	codes, n, err := DecodeTypeRaw(p)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{2, 4, 2, 0}, codes)

	_, err = EncodeTypeRaw([]byte{1, 2, 3}, 2)
	assert.ErrorIs(t, err, ErrBadRequest)

	blocks := []account.VersionedBlock{
		{EntryID: 1, Revision: 6, Data: []byte{1, 2}},
		{EntryID: 300, Revision: 0, Data: nil},
	}
	p, err = EncodeEntries(blocks)
	require.NoError(t, err)
	got, err := DecodeEntries(p)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 300, got[1].EntryID)
	assert.Equal(t, []byte{1, 2}, got[0].Data)

	_, err = DecodeEntries(p[:len(p)-1])
	assert.ErrorIs(t, err, ErrShortPayload)

	info := DeviceInfo{Major: 1, Minor: 2, Step: 3, State: StateLocked, Serial: "abc"}
	di, err := DecodeDeviceInfo(EncodeDeviceInfo(info))
	require.NoError(t, err)
	assert.Equal(t, info, di)
	assert.Equal(t, "1.2.3", di.Firmware())
}

func TestReportConn_SplitsFrames(t *testing.T) {
	a, b := net.Pipe()
	ra, rb := newReportConn(a), newReportConn(b)
	defer ra.Close()
	defer rb.Close()

	payload := bytes.Repeat([]byte{0xAB}, 150)
	go NewFrame(CmdSetKeyboardLayout, 7, payload).Write(ra)

	f, err := ReadFrame(rb)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), f.Header.Token)
	assert.Equal(t, payload, f.Payload)
}

// =============================================================================
// Client
// =============================================================================

func TestClient_Startup(t *testing.T) {
	c, _ := newEmulatedClient(t)

	info, err := c.Startup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateUnlocked, info.State)
	assert.Equal(t, "EMULATOR", info.Serial)
}

func TestClient_ReadEntries(t *testing.T) {
	c, emu := newEmulatedClient(t)

	b, err := account.ToBlock(&account.Account{ID: 3, AcctName: "Bank"})
	require.NoError(t, err)
	emu.SetEntries(account.Module, []account.VersionedBlock{b})

	blocks, err := c.ReadEntries(context.Background(), account.Module)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	a, err := account.DecodeBlock(blocks[0], nil)
	require.NoError(t, err)
	assert.Equal(t, "Bank", a.AcctName)

	_, err = c.ReadEntries(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_AddEntry(t *testing.T) {
	c, emu := newEmulatedClient(t)

	existing, err := account.ToBlock(&account.Account{ID: 4, AcctName: "Mail"})
	require.NoError(t, err)
	emu.SetEntries(account.Module, []account.VersionedBlock{existing})

	b, err := account.ToBlock(&account.Account{ID: account.ImportID, AcctName: "Forum", UserName: "me"})
	require.NoError(t, err)
	id, err := c.AddEntry(context.Background(), account.Module, b)
	require.NoError(t, err)
	assert.Equal(t, 5, id)

	stored := emu.Entries(account.Module)
	require.Len(t, stored, 2)
	a, err := account.DecodeBlock(stored[1], nil)
	require.NoError(t, err)
	assert.Equal(t, 5, a.ID)
	assert.Equal(t, "Forum", a.AcctName)

	_, _, err = DecodeAddEntry([]byte{1, 'x', 6, 9, 0})
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestClient_KeyboardLayout(t *testing.T) {
	c, emu := newEmulatedClient(t)
	l := keyboard.Layout{{Char: 'a', Keys: [2]keyboard.PhysicalKey{{Scancode: 4}}}}

	require.NoError(t, c.SetKeyboardLayout(context.Background(), l))
	assert.Equal(t, l, emu.Layout())

	got, err := c.GetKeyboardLayout(context.Background())
	require.NoError(t, err)
	assert.Equal(t, l, got)
}

func TestClient_TypeRawTokens(t *testing.T) {
	c, emu := newEmulatedClient(t)

	t1, err := c.TypeRaw([]byte{0, 4, 0, 0}, 2)
	require.NoError(t, err)
	t2, err := c.Stop()
	require.NoError(t, err)
	assert.NotEqual(t, t1, t2)

	for _, want := range []uint32{t1, t2} {
		select {
		case resp := <-c.Responses():
			assert.Equal(t, want, resp.Token)
			assert.Equal(t, CmdTypeRaw, resp.Command)
			assert.NoError(t, resp.Err())
		case <-time.After(2 * time.Second):
			t.Fatal("no response")
		}
	}
	assert.Equal(t, [][]byte{{0, 4, 0, 0}, {0, 0}}, emu.Typed())
}

func TestClient_UnknownTokenGoesToResponses(t *testing.T) {
	clientSide, deviceSide := net.Pipe()
	c := NewClient(clientSide, ClientConfig{})
	defer c.Close()

	go ResponseFrame(CmdTypeRaw, 999, StatusOK, nil).Write(deviceSide)

	select {
	case resp := <-c.Responses():
		assert.Equal(t, uint32(999), resp.Token)
	case <-time.After(2 * time.Second):
		t.Fatal("stale response not published")
	}
	deviceSide.Close()
}

func TestClient_Timeout(t *testing.T) {
	clientSide, deviceSide := net.Pipe()
	defer deviceSide.Close()
	go io.Copy(io.Discard, deviceSide)

	c := NewClient(clientSide, ClientConfig{RequestTimeout: 50 * time.Millisecond})
	defer c.Close()

	_, err := c.Startup(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_ConnectionLost(t *testing.T) {
	clientSide, deviceSide := net.Pipe()
	c := NewClient(clientSide, ClientConfig{RequestTimeout: 2 * time.Second})
	defer c.Close()

	go func() {
		// Swallow the request header then drop the link.
		buf := make([]byte, HeaderSize)
		io.ReadFull(deviceSide, buf)
		deviceSide.Close()
	}()

	_, err := c.Startup(context.Background())
	assert.ErrorIs(t, err, ErrConnectionLost)

	_, ok := <-c.Responses()
	assert.False(t, ok, "responses closed after disconnect")
	assert.False(t, c.IsConnected())

	_, err = c.TypeRaw([]byte{0, 0}, 1)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDial_Socket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signet.sock")
	l, err := net.Listen("unix", path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	emu := NewEmulator(nil)
	go emu.ListenAndServe(ctx, l)

	c, err := Open(ctx, Config{Transport: TransportSocket, Path: path, RequestTimeout: 2 * time.Second})
	require.NoError(t, err)
	defer c.Close()

	info, err := c.Startup(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.3.0", info.Firmware())
}

func TestDial_Errors(t *testing.T) {
	_, err := Dial(context.Background(), Config{Transport: TransportSocket})
	assert.ErrorIs(t, err, ErrNoDevice)

	_, err = Dial(context.Background(), Config{Transport: "usb"})
	assert.Error(t, err)
}
