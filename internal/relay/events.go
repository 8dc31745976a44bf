package relay

import (
	"encoding/json"

	apperrors "github.com/alym00sa/hira/internal/errors"
)

// EventTypes 上游事件协议词汇表。具体事件名随供应商而异，
// 通过注入配置而非硬编码（未识别的事件类型原样透传）
type EventTypes struct {
	SessionUpdate             string
	SessionUpdated            string
	TranscriptionCompleted    string
	ResponseDone              string
	FunctionCallArgumentsDone string
	ItemCreate                string
	ResponseCreate            string
}

// OpenAIRealtimeEvents OpenAI Realtime API的事件词汇表
func OpenAIRealtimeEvents() EventTypes {
	return EventTypes{
		SessionUpdate:             "session.update",
		SessionUpdated:            "session.updated",
		TranscriptionCompleted:    "conversation.item.input_audio_transcription.completed",
		ResponseDone:              "response.done",
		FunctionCallArgumentsDone: "response.function_call_arguments.done",
		ItemCreate:                "conversation.item.create",
		ResponseCreate:            "response.create",
	}
}

// Event 解析后的上游/客户端事件。Raw保留原始字节用于透传，
// 未识别的类型不需要改动代码即可安全转发
type Event struct {
	Type string
	Raw  []byte
}

// ParseEvent 只解析type字段。非法JSON返回协议错误，
// 缺失type的合法JSON视为未知事件
func ParseEvent(data []byte) (*Event, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, apperrors.NewProtocolError("malformed event frame", err)
	}
	return &Event{Type: header.Type, Raw: data}, nil
}

// Transcript 提取转写完成事件中的文本
func (e *Event) Transcript() string {
	var payload struct {
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(e.Raw, &payload); err != nil {
		return ""
	}
	return payload.Transcript
}

// FunctionCall 工具调用参数完成事件的内容
type FunctionCall struct {
	Name      string
	CallID    string
	Arguments string
}

// functionCallPayload 工具调用字段可能位于顶层或item内
type functionCallPayload struct {
	Name      string `json:"name"`
	CallID    string `json:"call_id"`
	ID        string `json:"id"`
	Arguments string `json:"arguments"`
	Item      *struct {
		Name      string `json:"name"`
		CallID    string `json:"call_id"`
		ID        string `json:"id"`
		Arguments string `json:"arguments"`
	} `json:"item"`
}

// FunctionCall 提取工具调用信息
func (e *Event) FunctionCall() FunctionCall {
	var payload functionCallPayload
	if err := json.Unmarshal(e.Raw, &payload); err != nil {
		return FunctionCall{}
	}

	call := FunctionCall{
		Name:      payload.Name,
		CallID:    payload.CallID,
		Arguments: payload.Arguments,
	}
	if payload.Item != nil && payload.Item.Name != "" {
		call.Name = payload.Item.Name
		call.CallID = payload.Item.CallID
		if call.CallID == "" {
			call.CallID = payload.Item.ID
		}
		call.Arguments = payload.Item.Arguments
	}
	if call.CallID == "" {
		call.CallID = payload.ID
	}
	return call
}

// AssistantTexts 提取response.done事件中助手输出的文本内容
func (e *Event) AssistantTexts() []string {
	var payload struct {
		Response struct {
			Output []struct {
				Role    string `json:"role"`
				Content []struct {
					Type       string `json:"type"`
					Text       string `json:"text"`
					Transcript string `json:"transcript"`
				} `json:"content"`
			} `json:"output"`
		} `json:"response"`
	}
	if err := json.Unmarshal(e.Raw, &payload); err != nil {
		return nil
	}

	var texts []string
	for _, item := range payload.Response.Output {
		if item.Role != "assistant" {
			continue
		}
		for _, content := range item.Content {
			switch content.Type {
			case "text":
				if content.Text != "" {
					texts = append(texts, content.Text)
				}
			case "audio":
				// 语音输出的文本在transcript字段
				if content.Transcript != "" {
					texts = append(texts, content.Transcript)
				}
			}
		}
	}
	return texts
}

// KnowledgeTools 构造知识检索工具定义，注入到上游会话配置
func KnowledgeTools(toolName string) []map[string]interface{} {
	return []map[string]interface{}{
		{
			"type":        "function",
			"name":        toolName,
			"description": "Search the human rights knowledge base for information. Use this for ANY question about HRBA, human rights, policies, or related topics.",
			"parameters": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "The search query to find relevant information",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}
