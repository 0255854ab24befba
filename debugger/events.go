package debugger

import (
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/fansqz/lua-debugger/constants"
)

// nextSeq 取下一个消息序号
// 所有出站消息共用一个单调递增的计数器
func (d *Debugger) nextSeq() int {
	d.seqMu.Lock()
	defer d.seqMu.Unlock()
	seq := d.seq
	d.seq++
	return seq
}

// sendMessage 给消息盖上序号并发送
func (d *Debugger) sendMessage(message dap.Message) {
	seq := d.nextSeq()
	switch m := message.(type) {
	case dap.ResponseMessage:
		m.GetResponse().Seq = seq
	case dap.EventMessage:
		m.GetEvent().Seq = seq
	}
	if err := d.channel.Send(message); err != nil {
		logrus.Warnf("[Debugger] send message fail, err = %v", err)
	}
}

func (d *Debugger) sendErrorResponse(request *dap.Request, message string) {
	d.sendMessage(newErrorResponse(request.Seq, request.Command, message))
}

func (d *Debugger) eventInitialized() {
	d.sendMessage(&dap.InitializedEvent{Event: *newEvent("initialized")})
}

// eventStopped 通知IDE虚拟机已经停下
// stopped必须先于这次停顿之后收到的任何请求的应答发出
func (d *Debugger) eventStopped(reason constants.StoppedReasonType) {
	event := &dap.StoppedEvent{Event: *newEvent("stopped")}
	event.Body = dap.StoppedEventBody{
		Reason:            string(reason),
		ThreadId:          mainThreadID,
		AllThreadsStopped: true,
	}
	d.sendMessage(event)
}

// eventOutput 转发一段调试对象的输出，内容按字节透传
func (d *Debugger) eventOutput(category constants.OutputCategory, buffer []byte) {
	event := &dap.OutputEvent{Event: *newEvent("output")}
	event.Body = dap.OutputEventBody{
		Category: string(category),
		Output:   string(buffer),
	}
	d.sendMessage(event)
}

func (d *Debugger) eventTerminated() {
	d.sendMessage(&dap.TerminatedEvent{Event: *newEvent("terminated")})
}

func (d *Debugger) eventThread(reason string) {
	event := &dap.ThreadEvent{Event: *newEvent("thread")}
	event.Body = dap.ThreadEventBody{
		Reason:   reason,
		ThreadId: mainThreadID,
	}
	d.sendMessage(event)
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Type: string(constants.EventMessage),
		},
		Event: event,
	}
}

func newResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Type: string(constants.ResponseMessage),
		},
		Command:    command,
		RequestSeq: requestSeq,
		Success:    true,
	}
}

func newErrorResponse(requestSeq int, command string, message string) *dap.ErrorResponse {
	er := &dap.ErrorResponse{}
	er.Response = *newResponse(requestSeq, command)
	er.Success = false
	er.Message = message
	er.Body.Error = &dap.ErrorMessage{
		Id:     requestSeq,
		Format: message,
	}
	return er
}
