package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/alym00sa/hira/internal/errors"
)

func TestParseEvent(t *testing.T) {
	event, err := ParseEvent([]byte(`{"type":"response.done","response":{}}`))
	require.NoError(t, err)
	assert.Equal(t, "response.done", event.Type)

	// 缺失type的合法JSON视为未知事件，透传而非报错
	event, err = ParseEvent([]byte(`{"foo":"bar"}`))
	require.NoError(t, err)
	assert.Equal(t, "", event.Type)

	// 非法JSON以协议错误码上报
	_, err = ParseEvent([]byte(`{broken`))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeProtocol))
}

func TestEventFunctionCallTopLevel(t *testing.T) {
	event, err := ParseEvent([]byte(`{
		"type": "response.function_call_arguments.done",
		"name": "search_knowledge_base",
		"call_id": "call-1",
		"arguments": "{\"query\":\"hrba\"}"
	}`))
	require.NoError(t, err)

	call := event.FunctionCall()
	assert.Equal(t, "search_knowledge_base", call.Name)
	assert.Equal(t, "call-1", call.CallID)
	assert.Equal(t, `{"query":"hrba"}`, call.Arguments)
}

func TestEventFunctionCallNestedItem(t *testing.T) {
	event, err := ParseEvent([]byte(`{
		"type": "response.output_item.done",
		"item": {"name": "search_knowledge_base", "id": "item-7", "arguments": "{}"}
	}`))
	require.NoError(t, err)

	// item内缺少call_id时回退到id
	call := event.FunctionCall()
	assert.Equal(t, "search_knowledge_base", call.Name)
	assert.Equal(t, "item-7", call.CallID)
}

func TestEventTranscript(t *testing.T) {
	event, err := ParseEvent([]byte(`{
		"type": "conversation.item.input_audio_transcription.completed",
		"transcript": "hey hira what is article five"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "hey hira what is article five", event.Transcript())
}

func TestEventAssistantTexts(t *testing.T) {
	event, err := ParseEvent([]byte(`{
		"type": "response.done",
		"response": {
			"output": [
				{"role": "assistant", "content": [
					{"type": "audio", "transcript": "spoken answer"},
					{"type": "text", "text": "written answer"}
				]},
				{"role": "user", "content": [{"type": "text", "text": "ignored"}]}
			]
		}
	}`))
	require.NoError(t, err)

	texts := event.AssistantTexts()
	assert.Equal(t, []string{"spoken answer", "written answer"}, texts)
}

func TestKnowledgeTools(t *testing.T) {
	tools := KnowledgeTools("search_knowledge_base")
	require.Len(t, tools, 1)
	assert.Equal(t, "function", tools[0]["type"])
	assert.Equal(t, "search_knowledge_base", tools[0]["name"])

	params := tools[0]["parameters"].(map[string]interface{})
	assert.Equal(t, []string{"query"}, params["required"])
}
