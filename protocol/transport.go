// Package protocol implements the wire side of the debug adapter:
// a message-framed JSON channel over TCP, read and written with the
// go-dap codec. The debugger core polls it without blocking: accepting
// and reading happen on internal goroutines, while Send writes on the
// caller's goroutine under a mutex.
package protocol

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/fansqz/lua-debugger/constants"
	"github.com/fansqz/lua-debugger/utils/gosync"
)

const inputQueueSize = 64

// Transport 调试器和IDE之间的消息通道
// 监听ip:port，同一时刻只服务一个IDE连接，连接断开后回到accept等待下一个
type Transport struct {
	listener net.Listener

	connMu sync.Mutex
	conn   net.Conn
	writer *bufio.Writer

	// sendMu serializes writes; the stop loop and the host tick may both
	// send on the same channel.
	sendMu sync.Mutex

	inputQueue chan dap.Message

	schemaMu   sync.RWMutex
	schemaPath string

	closed atomic.Bool
}

// NewTransport 在ip:port上启动监听
// port传0则由系统分配端口，可以通过Addr获取实际地址
func NewTransport(ip string, port int) (*Transport, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return nil, fmt.Errorf("transport listen fail: %w", err)
	}
	t := &Transport{
		listener:   listener,
		inputQueue: make(chan dap.Message, inputQueueSize),
	}
	gosync.Go(context.Background(), t.acceptLoop)
	return t, nil
}

// Addr 返回实际监听地址
func (t *Transport) Addr() net.Addr {
	return t.listener.Addr()
}

// SetSchema 记录请求校验使用的schema文件路径
// 校验本身是结构性的，见checkMessage
func (t *Transport) SetSchema(path string) error {
	t.schemaMu.Lock()
	defer t.schemaMu.Unlock()
	t.schemaPath = path
	return nil
}

// Update 服务一次通道
// 读取由内部协程完成，写在Send里同步进行，这里只负责让调用方在timeout内让出CPU
func (t *Transport) Update(timeout time.Duration) {
	if timeout > 0 {
		time.Sleep(timeout)
	}
}

// Input 非阻塞地取出一条已解码的消息，没有消息时返回nil
func (t *Transport) Input() dap.Message {
	select {
	case msg := <-t.inputQueue:
		return msg
	default:
		return nil
	}
}

// Send 发送一条消息，seq由调用方负责填好
func (t *Transport) Send(message dap.Message) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	t.connMu.Lock()
	writer := t.writer
	t.connMu.Unlock()
	if writer == nil {
		return fmt.Errorf("transport send: no client connected")
	}
	if err := dap.WriteProtocolMessage(writer, message); err != nil {
		return fmt.Errorf("transport send fail: %w", err)
	}
	return writer.Flush()
}

// Closed 通道是否已经关闭
func (t *Transport) Closed() bool {
	return t.closed.Load()
}

// Close 关闭通道，断开当前连接并停止监听
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.connMu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
		t.writer = nil
	}
	t.connMu.Unlock()
	return t.listener.Close()
}

func (t *Transport) acceptLoop(ctx context.Context) {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if !t.Closed() {
				logrus.Errorf("[Transport] accept fail, err = %v", err)
				t.closed.Store(true)
			}
			return
		}
		logrus.Infof("[Transport] client connected from %s", conn.RemoteAddr())
		t.connMu.Lock()
		t.conn = conn
		t.writer = bufio.NewWriter(conn)
		t.connMu.Unlock()

		t.readLoop(conn)

		t.connMu.Lock()
		if t.conn == conn {
			t.conn = nil
			t.writer = nil
		}
		t.connMu.Unlock()
		conn.Close()
		logrus.Infof("[Transport] client %s disconnected", conn.RemoteAddr())
	}
}

// readLoop 循环读取当前连接上的消息，直到连接断开
func (t *Transport) readLoop(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		raw, err := dap.ReadBaseMessage(reader)
		if err != nil {
			return
		}
		msg := t.decode(raw)
		if msg == nil {
			continue
		}
		select {
		case t.inputQueue <- msg:
		default:
			// 队列满说明核心长时间没有消费，丢弃最旧的一条
			<-t.inputQueue
			t.inputQueue <- msg
		}
	}
}

// decode 校验并解码一条原始消息，非法消息返回nil（静默丢弃）
func (t *Transport) decode(raw []byte) dap.Message {
	if !t.checkMessage(raw) {
		logrus.Warnf("[Transport] drop invalid message: %s", string(raw))
		return nil
	}
	msg, err := dap.DecodeProtocolMessage(raw)
	if err == nil {
		return msg
	}
	// go-dap对未知command会解码失败，但协议上未知命令需要应答
	// "not yet implemented"，所以这里降级成一条裸Request交给路由
	body := gjson.ParseBytes(raw)
	if constants.DebugMessageType(body.Get("type").String()) == constants.RequestMessage {
		req := &dap.Request{
			ProtocolMessage: dap.ProtocolMessage{
				Seq:  int(body.Get("seq").Int()),
				Type: string(constants.RequestMessage),
			},
			Command: body.Get("command").String(),
		}
		return req
	}
	logrus.Warnf("[Transport] drop undecodable message, err = %v", err)
	return nil
}

// checkMessage 对消息做结构校验
// 完整的JSON schema校验交给外部，这里保证最基本的字段形状：
// 合法JSON、有type字段、request必须带seq和command
func (t *Transport) checkMessage(raw []byte) bool {
	if !gjson.ValidBytes(raw) {
		return false
	}
	body := gjson.ParseBytes(raw)
	msgType := body.Get("type")
	if !msgType.Exists() {
		return false
	}
	if constants.DebugMessageType(msgType.String()) == constants.RequestMessage {
		return body.Get("seq").Exists() && body.Get("command").Exists()
	}
	return true
}
