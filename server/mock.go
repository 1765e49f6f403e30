package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/Desarso/crmstream/models"
)

// SampleReply is the canned structured reply of the mock backend.
const SampleReply = `以下是客户速览：

【基本信息】
姓名：张三
销售阶段：trust_building
风险偏好：稳健型
备注：关注养老规划<br>偏好线下沟通
----------------
【表格：联系记录】
日期 | 渠道 | 内容
--- | --- | ---
2024-05-01 | 电话 | 介绍稳健理财
2024-05-03 | 微信 | 发送产品资料
----------------
【表格：资产明细】
【明细】
更新时间：2024-05-01 10:00
产品：稳健理财
金额：100000
【明细】
更新时间：2024-06-01 09:30
产品：养老年金
金额：50000
----------------
【档案记录】
- 2024-04 初次到访
- 2024-05 参加养老讲座
`

// MockBackend replays canned replies in the backend's SSE format. Messages
// containing FailTrigger end with an error event instead of completing.
type MockBackend struct {
	Reply       func(message string) string
	FailTrigger string
	TokenRunes  int
	Delay       time.Duration

	mu            sync.Mutex
	nextSessionID int
}

// NewMockBackend creates a mock answering every message with SampleReply.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		Reply:         func(string) string { return SampleReply },
		FailTrigger:   "模拟失败",
		TokenRunes:    4,
		nextSessionID: 1,
	}
}

// Register mounts the backend's streaming chat routes.
func (m *MockBackend) Register(r gin.IRoutes) {
	r.POST("/chat/global/stream", m.globalStream)
	r.POST("/customers/:customerID/chat/stream", m.customerStream)
}

// Router returns an engine serving only the mock routes.
func (m *MockBackend) Router() *gin.Engine {
	router := gin.New()
	m.Register(router)
	return router
}

func (m *MockBackend) globalStream(c *gin.Context) {
	m.serve(c, "")
}

func (m *MockBackend) customerStream(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("customerID"))
	if err != nil {
		c.JSON(http.StatusNotFound, models.Error_Response{Detail: "Customer not found"})
		return
	}
	m.serve(c, fmt.Sprintf("已定位客户【客户%d】(ID: %d)。\n\n", id, id))
}

func (m *MockBackend) serve(c *gin.Context, prefix string) {
	var req models.Chat_Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, models.Error_Response{Detail: err.Error()})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusUnprocessableEntity, models.Error_Response{Detail: "message is required"})
		return
	}

	sessionID := m.session(req.Session_ID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	send := func(event string, payload any) {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		_ = enc.Encode(payload)
		data := strings.TrimSuffix(buf.String(), "\n")
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		c.Writer.Flush()
		if m.Delay > 0 {
			time.Sleep(m.Delay)
		}
	}

	send("session_info", map[string]any{"session_id": sessionID})

	reply := prefix + m.Reply(req.Message)
	for _, token := range chunkRunes(reply, m.TokenRunes) {
		if c.Request.Context().Err() != nil {
			return
		}
		send("", map[string]string{"token": token})
	}

	if m.FailTrigger != "" && strings.Contains(req.Message, m.FailTrigger) {
		send("error", map[string]string{"message": "（系统错误）AI 响应失败: simulated failure"})
	}
	fmt.Fprint(c.Writer, "event: done\ndata: [DONE]\n\n")
	c.Writer.Flush()
}

// session reuses a numeric session id from the request or allocates one.
func (m *MockBackend) session(raw json.RawMessage) int {
	if id := gjson.ParseBytes(raw); id.Type == gjson.Number {
		return int(id.Int())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSessionID
	m.nextSessionID++
	return id
}

func chunkRunes(s string, n int) []string {
	if n <= 0 {
		n = 1
	}
	runes := []rune(s)
	chunks := make([]string, 0, len(runes)/n+1)
	for i := 0; i < len(runes); i += n {
		chunks = append(chunks, string(runes[i:min(i+n, len(runes))]))
	}
	return chunks
}
