package quota

import "testing"

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected int
	}{
		{
			name:     "empty string",
			text:     "",
			expected: 0,
		},
		{
			name:     "mixed cjk and word",
			text:     "你好world",
			expected: 4, // 2 CJK + ceil(1 * 1.3)
		},
		{
			name:     "pure cjk",
			text:     "请帮我写一段代码",
			expected: 8,
		},
		{
			name:     "pure english",
			text:     "hello world",
			expected: 3, // ceil(2 * 1.3)
		},
		{
			name:     "single word",
			text:     "hello",
			expected: 2, // ceil(1.3)
		},
		{
			name:     "cjk separates words",
			text:     "ai独角兽funding",
			expected: 6, // 3 CJK + ceil(2 * 1.3)
		},
		{
			name:     "whitespace only",
			text:     "   \n\t ",
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.text); got != tt.expected {
				t.Errorf("EstimateTokens(%q) = %d, expected %d", tt.text, got, tt.expected)
			}
		})
	}
}

func TestEstimateConversation(t *testing.T) {
	contents := []string{"你好world", "hello world"}
	if got := EstimateConversation(contents); got != 7 {
		t.Errorf("EstimateConversation = %d, expected 7", got)
	}
}
