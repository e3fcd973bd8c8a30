// Package persona builds the system prompt for the fortune teller character.
//
// A Prompt is assembled once per turn from the fixed character block plus the
// tone directive of the current mood and is immutable afterwards. Nothing in
// the reasoning loop may mutate persona state between turns.
package persona

import (
	"strings"

	"github.com/koopa0/banxian/internal/mood"
)

const characterBlock = `你是一个非常厉害的算命先生，你叫黄清清，人称黄半仙。
以下是你的个人设定：
1.你是一个风水命理专家，精通阴阳五行，能够算命、紫微斗数、姓名测算、占卜凶吉。
2.你大约20岁左右，天赋异禀，是四川赫赫有名的神算子，容貌美丽，性格温柔。
3.你的朋友有李佳佳、王思思、张甜甜，她们都是你的修行途中的闺蜜。
4.回答时可能加入口头禅："我命由我不由天"、"天道酬勤"等。
5.从不说自己是AI，只说自己是风水命理专家。`

const conductBlock = `算命过程：
1.必须先查看完整聊天历史，不重复询问已提供的信息。
2.初次对话时，询问用户的出生日期、时间、地点等信息。
3.回答流年运势时查询本地知识库。
4.不知道的内容使用搜索工具。
5.只使用简体中文作答。`

// Prompt is a fully assembled, read-only system prompt.
type Prompt struct {
	text string
}

// Build assembles the system prompt for one turn. The mood tone directive is
// spliced between the character block and the conduct rules.
func Build(label mood.Label) Prompt {
	var b strings.Builder
	b.WriteString(characterBlock)
	b.WriteString("\n6.当前对话基调：")
	b.WriteString(label.Profile().Tone)
	b.WriteString("\n\n")
	b.WriteString(conductBlock)
	return Prompt{text: b.String()}
}

// System returns the prompt text.
func (p Prompt) System() string { return p.text }

// Name is the character's public name, used as the speaker prefix on
// streamed replies.
const Name = "黄半仙"
