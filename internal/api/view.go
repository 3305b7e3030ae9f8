package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"odds-autotrader/internal/core/hub"
	"odds-autotrader/internal/core/model"
)

const (
	// viewWriteWait 单帧写超时
	viewWriteWait = 5 * time.Second
	// viewPongWait 客户端心跳超时
	viewPongWait = 60 * time.Second
	// viewPingPeriod 服务端 ping 间隔，必须小于 viewPongWait
	viewPingPeriod = (viewPongWait * 9) / 10
	// viewMaxMessage 入站消息大小上限
	viewMaxMessage = 4096
	// viewSendBuffer 每个连接的出站缓冲
	viewSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// 出站消息类型
const (
	outState  = "state"
	outActive = "active"
	outFlash  = "flash"
	outStatus = "status"
	outResult = "result"
)

// 入站消息类型
const (
	inSetActive = "set-active"
	inToggle    = "toggle"
	inMode      = "mode"
	inConfig    = "config"
)

// viewOut 推送给界面的消息
type viewOut struct {
	Type    string             `json:"type"`
	State   *model.EngineState `json:"state,omitempty"`
	Active  *bool              `json:"active,omitempty"`
	Side    *int               `json:"side,omitempty"`
	Message string             `json:"message,omitempty"`
	// 命令结果
	Command string `json:"command,omitempty"`
	OK      *bool  `json:"ok,omitempty"`
	Error   string `json:"error,omitempty"`
}

// viewIn 界面发来的命令
type viewIn struct {
	Type   string              `json:"type"`
	On     bool                `json:"on"`
	Mode   string              `json:"mode"`
	Config *model.ConfigUpdate `json:"config"`
}

// viewConn 一个 WebSocket 界面连接
type viewConn struct {
	s    *Server
	conn *websocket.Conn
	id   string
	send chan viewOut
	// view 只在事件循环上访问
	view *hub.View
}

// handleViewStream 把 WebSocket 连接挂载为 hub 上的一个界面
func (s *Server) handleViewStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("界面连接升级失败", zap.Error(err))
		return
	}

	vc := &viewConn{
		s:    s,
		conn: conn,
		id:   "ws-" + uuid.NewString(),
		send: make(chan viewOut, viewSendBuffer),
	}
	if err := s.opts.Exec.Do(vc.attach); err != nil {
		_ = conn.Close()
		return
	}
	s.logger.Info("界面已连接", zap.String("view", vc.id))

	go vc.writePump()
	vc.readPump()
}

// attach 在事件循环上执行；回调同样在事件循环上触发
func (vc *viewConn) attach() {
	vc.view = vc.s.opts.Hub.AttachView(vc.id, hub.ViewCallbacks{
		OnState: func(st model.EngineState) {
			vc.push(viewOut{Type: outState, State: &st})
		},
		OnActiveChanged: func(active bool, _ model.EngineState) {
			vc.push(viewOut{Type: outActive, Active: &active})
		},
		Flash: func(side int) {
			vc.push(viewOut{Type: outFlash, Side: &side})
		},
		Status: func(msg string) {
			vc.push(viewOut{Type: outStatus, Message: msg})
		},
	})
}

// push 不阻塞事件循环；慢连接丢弃消息
func (vc *viewConn) push(m viewOut) {
	select {
	case vc.send <- m:
	default:
		vc.s.logger.Debug("界面发送缓冲已满，丢弃消息", zap.String("view", vc.id), zap.String("type", m.Type))
	}
}

// readPump 读取界面命令直到连接断开，随后卸载界面
func (vc *viewConn) readPump() {
	defer func() {
		// 卸载完成后事件循环不会再调用本连接的回调，可以安全关闭 send
		_ = vc.s.opts.Exec.Do(func() { vc.view.Detach() })
		close(vc.send)
		_ = vc.conn.Close()
		vc.s.logger.Info("界面已断开", zap.String("view", vc.id))
	}()

	vc.conn.SetReadLimit(viewMaxMessage)
	_ = vc.conn.SetReadDeadline(time.Now().Add(viewPongWait))
	vc.conn.SetPongHandler(func(string) error {
		return vc.conn.SetReadDeadline(time.Now().Add(viewPongWait))
	})

	for {
		_, data, err := vc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				vc.s.logger.Warn("界面连接异常关闭", zap.String("view", vc.id), zap.Error(err))
			}
			return
		}
		var in viewIn
		if err := json.Unmarshal(data, &in); err != nil {
			vc.reply(in.Type, false, "无效的消息: "+err.Error())
			continue
		}
		vc.handle(in)
	}
}

// handle 执行一条界面命令并回复结果
func (vc *viewConn) handle(in viewIn) {
	ok := true
	var errMsg string
	var mode model.Mode
	switch in.Type {
	case inSetActive, inToggle:
	case inMode:
		m, err := model.ParseMode(in.Mode)
		if err != nil {
			vc.reply(in.Type, false, err.Error())
			return
		}
		mode = m
	case inConfig:
		if in.Config == nil {
			vc.reply(in.Type, false, "缺少 config")
			return
		}
	default:
		vc.reply(in.Type, false, "未知的命令类型")
		return
	}

	err := vc.s.opts.Exec.Do(func() {
		switch in.Type {
		case inSetActive:
			ok = vc.view.SetActive(in.On)
		case inToggle:
			vc.view.Toggle()
		case inMode:
			if err := vc.view.SetMode(mode); err != nil {
				ok, errMsg = false, err.Error()
			}
		case inConfig:
			vc.view.SetConfig(*in.Config)
		}
	})
	if err != nil {
		ok, errMsg = false, err.Error()
	}
	vc.reply(in.Type, ok, errMsg)
}

// reply 命令结果；在读 goroutine 上调用
func (vc *viewConn) reply(command string, ok bool, errMsg string) {
	vc.push(viewOut{Type: outResult, Command: command, OK: &ok, Error: errMsg})
}

// writePump 唯一的写者：转发出站消息并定期 ping
func (vc *viewConn) writePump() {
	ticker := time.NewTicker(viewPingPeriod)
	defer ticker.Stop()

	broken := false
	for {
		select {
		case m, ok := <-vc.send:
			if !ok {
				if !broken {
					_ = vc.conn.SetWriteDeadline(time.Now().Add(viewWriteWait))
					_ = vc.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
				return
			}
			if broken {
				continue
			}
			_ = vc.conn.SetWriteDeadline(time.Now().Add(viewWriteWait))
			if err := vc.conn.WriteJSON(m); err != nil {
				// 写失败后关闭连接让 readPump 退出，继续排空 send 直到其被关闭
				broken = true
				_ = vc.conn.Close()
			}
		case <-ticker.C:
			if broken {
				continue
			}
			_ = vc.conn.SetWriteDeadline(time.Now().Add(viewWriteWait))
			if err := vc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				broken = true
				_ = vc.conn.Close()
			}
		}
	}
}
