package protocol

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
)

// waitInput 轮询Input直到拿到消息或超时
func waitInput(t *Transport, timeout time.Duration) dap.Message {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if msg := t.Input(); msg != nil {
			return msg
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

func dialTransport(t *testing.T, transport *Transport) net.Conn {
	conn, err := net.Dial("tcp", transport.Addr().String())
	assert.Nil(t, err)
	return conn
}

func writeFrame(t *testing.T, conn net.Conn, body string) {
	_, err := fmt.Fprintf(conn, "Content-Length: %d\r\n\r\n%s", len(body), body)
	assert.Nil(t, err)
}

func TestTransportReceiveRequest(t *testing.T) {
	transport, err := NewTransport("127.0.0.1", 0)
	assert.Nil(t, err)
	defer transport.Close()

	conn := dialTransport(t, transport)
	defer conn.Close()

	writeFrame(t, conn, `{"seq":1,"type":"request","command":"initialize","arguments":{"adapterID":"lua"}}`)

	msg := waitInput(transport, time.Second)
	assert.NotNil(t, msg)
	request, ok := msg.(*dap.InitializeRequest)
	assert.True(t, ok)
	assert.Equal(t, 1, request.Seq)
	assert.Equal(t, "initialize", request.Command)
}

// TestTransportDropsInvalid 非法消息静默丢弃，不影响后续消息
func TestTransportDropsInvalid(t *testing.T) {
	transport, err := NewTransport("127.0.0.1", 0)
	assert.Nil(t, err)
	defer transport.Close()

	conn := dialTransport(t, transport)
	defer conn.Close()

	// 不是JSON
	writeFrame(t, conn, `this is not json`)
	// 没有type字段
	writeFrame(t, conn, `{"seq":1,"command":"initialize"}`)
	// request缺seq
	writeFrame(t, conn, `{"type":"request","command":"initialize"}`)
	// 合法消息
	writeFrame(t, conn, `{"seq":2,"type":"request","command":"threads"}`)

	msg := waitInput(transport, time.Second)
	assert.NotNil(t, msg)
	request, ok := msg.(*dap.ThreadsRequest)
	assert.True(t, ok)
	assert.Equal(t, 2, request.Seq)
	assert.Nil(t, transport.Input())
}

// TestTransportUnknownCommand 未知命令降级成裸Request交给路由应答
func TestTransportUnknownCommand(t *testing.T) {
	transport, err := NewTransport("127.0.0.1", 0)
	assert.Nil(t, err)
	defer transport.Close()

	conn := dialTransport(t, transport)
	defer conn.Close()

	writeFrame(t, conn, `{"seq":3,"type":"request","command":"foo","arguments":{"a":1}}`)

	msg := waitInput(transport, time.Second)
	assert.NotNil(t, msg)
	request, ok := msg.(*dap.Request)
	assert.True(t, ok)
	assert.Equal(t, "foo", request.Command)
	assert.Equal(t, 3, request.Seq)
}

func TestTransportSend(t *testing.T) {
	transport, err := NewTransport("127.0.0.1", 0)
	assert.Nil(t, err)
	defer transport.Close()

	conn := dialTransport(t, transport)
	defer conn.Close()

	// 等reader侧装好连接
	writeFrame(t, conn, `{"seq":1,"type":"request","command":"threads"}`)
	assert.NotNil(t, waitInput(transport, time.Second))

	event := &dap.TerminatedEvent{
		Event: dap.Event{
			ProtocolMessage: dap.ProtocolMessage{Seq: 9, Type: "event"},
			Event:           "terminated",
		},
	}
	assert.Nil(t, transport.Send(event))

	msg, err := dap.ReadProtocolMessage(bufio.NewReader(conn))
	assert.Nil(t, err)
	received, ok := msg.(*dap.TerminatedEvent)
	assert.True(t, ok)
	assert.Equal(t, 9, received.Seq)
}

func TestTransportSendWithoutClient(t *testing.T) {
	transport, err := NewTransport("127.0.0.1", 0)
	assert.Nil(t, err)
	defer transport.Close()

	event := &dap.TerminatedEvent{Event: dap.Event{Event: "terminated"}}
	assert.NotNil(t, transport.Send(event))
}

func TestTransportClose(t *testing.T) {
	transport, err := NewTransport("127.0.0.1", 0)
	assert.Nil(t, err)
	assert.False(t, transport.Closed())
	assert.Nil(t, transport.Close())
	assert.True(t, transport.Closed())
	// 再关一次是空操作
	assert.Nil(t, transport.Close())
}
