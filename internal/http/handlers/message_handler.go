// README: Message relay handlers between the support manager and delivery people.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tabla/internal/modules/chat"
	"tabla/internal/types"
)

type MessageHandler struct {
	chat *chat.Service
}

func NewMessageHandler(svc *chat.Service) *MessageHandler {
	return &MessageHandler{chat: svc}
}

type sendMessageReq struct {
	SenderID      string `json:"senderId"`
	SenderType    string `json:"senderType"`
	RecipientID   string `json:"recipientId"`
	RecipientType string `json:"recipientType"`
	Content       string `json:"content"`
}

func (h *MessageHandler) Send(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid json")
		return
	}
	m, err := h.chat.Send(c.Request.Context(), chat.SendCommand{
		SenderID:      types.ID(req.SenderID),
		SenderType:    chat.ParticipantType(req.SenderType),
		RecipientID:   types.ID(req.RecipientID),
		RecipientType: chat.ParticipantType(req.RecipientType),
		Content:       req.Content,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, m)
}

// Conversation answers GET ?manager_id=&delivery_person_id=. manager_id
// defaults to the support recipient.
func (h *MessageHandler) Conversation(c *gin.Context) {
	msgs, err := h.chat.FetchConversation(c.Request.Context(),
		types.ID(c.Query("manager_id")), types.ID(c.Query("delivery_person_id")))
	if err != nil {
		writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"messages": msgs})
}

func (h *MessageHandler) Unread(c *gin.Context) {
	n, err := h.chat.UnreadCount(c.Request.Context(),
		types.ID(c.Query("user_id")), chat.ParticipantType(c.Query("recipient_type")))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"unread": n})
}

type markReadReq struct {
	UserID        string `json:"userId"`
	SenderID      string `json:"senderId"`
	RecipientType string `json:"recipientType"`
}

func (h *MessageHandler) MarkRead(c *gin.Context) {
	var req markReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid json")
		return
	}
	n, err := h.chat.MarkRead(c.Request.Context(),
		types.ID(req.UserID), types.ID(req.SenderID), chat.ParticipantType(req.RecipientType))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"updated": n})
}
