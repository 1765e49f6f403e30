package structured

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullReply = `已为您整理客户档案：

【基本信息】
姓名：张三
销售阶段：trust_building
风险偏好：稳健型
备注：首次咨询<br>关注养老规划
----------------
【表格：联系记录】
日期 | 渠道 | 内容
--- | --- | ---
2024-05-01 | 电话 | 介绍产品\|方案
2024-05-03 | 微信
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
- 2024-05 参加讲座<br/>表现积极
`

func TestParse_BasicOnly(t *testing.T) {
	info := Parse("【基本信息】\n姓名：张三")
	require.NotNil(t, info)

	assert.Equal(t, map[string]string{"姓名": "张三"}, info.Basic.Map())
	assert.Empty(t, info.Tables)
	assert.Empty(t, info.Archives)
}

func TestParse_FlatTable(t *testing.T) {
	info := Parse("【表格：客户列表】\n姓名 | 电话\n张三 | 13800000000")
	require.NotNil(t, info)
	require.Len(t, info.Tables, 1)

	table := info.Tables[0]
	assert.Equal(t, "客户列表", table.Name)
	assert.Equal(t, TableFlat, table.Kind)
	assert.Equal(t, []string{"姓名", "电话"}, table.Columns)
	assert.Equal(t, []map[string]string{{"姓名": "张三", "电话": "13800000000"}}, table.Rows)
}

func TestParse_NoMarkers(t *testing.T) {
	assert.Nil(t, Parse("hello world"))
	assert.Nil(t, Parse("已定位客户【张三】(ID: 3)。"))
	assert.Nil(t, Parse("【自动触发：风险分析】\n风险较低"))
}

func TestParse_EmptyAndWhitespace(t *testing.T) {
	assert.Nil(t, Parse(""))
	assert.Nil(t, Parse("   \n\t  "))
	assert.Nil(t, Parse("【基本信息】"))
	assert.Nil(t, Parse("【基本信息】\n没有冒号的行\n：空键"))
	assert.Nil(t, Parse("【表格：空】\n"))
}

func TestParse_FullReply(t *testing.T) {
	info := Parse(fullReply)
	require.NotNil(t, info)

	assert.Equal(t, []string{"姓名", "销售阶段", "风险偏好", "备注"}, info.Basic.Keys())
	note, _ := info.Basic.Get("备注")
	assert.Equal(t, "首次咨询<br>关注养老规划", note)

	require.Len(t, info.Tables, 2)

	contacts := info.Tables[0]
	assert.Equal(t, "联系记录", contacts.Name)
	assert.Equal(t, []string{"日期", "渠道", "内容"}, contacts.Columns)
	require.Len(t, contacts.Rows, 2)
	assert.Equal(t, "介绍产品|方案", contacts.Rows[0]["内容"])
	assert.Equal(t, "", contacts.Rows[1]["内容"], "missing trailing cell")

	assets := info.Tables[1]
	assert.Equal(t, "资产明细", assets.Name)
	assert.Equal(t, TableRecords, assets.Kind)
	require.Len(t, assets.Records, 2)
	assert.Equal(t, "2024-05-01 10:00", assets.Records[0].UpdatedAt)
	assert.Equal(t, []string{"产品", "金额"}, assets.Records[0].Fields.Keys())
	assert.Equal(t, "2024-06-01 09:30", assets.Records[1].UpdatedAt)
	amount, _ := assets.Records[1].Fields.Get("金额")
	assert.Equal(t, "50000", amount)

	assert.Equal(t, []string{"2024-04 初次到访", "2024-05 参加讲座\n表现积极"}, info.Archives)
}

func TestParse_SeparatorRules(t *testing.T) {
	content := "【表格：A】\n列1 | 列2\n----------\nx | y\n【表格：B】\nk | v\n1 | 2\n---\n3 | 4"
	info := Parse(content)
	require.NotNil(t, info)
	require.Len(t, info.Tables, 2)

	assert.Equal(t, []map[string]string{{"列1": "x", "列2": "y"}}, info.Tables[0].Rows,
		"dash line right after the column header is a header/body separator")
	assert.Equal(t, []map[string]string{{"k": "1", "v": "2"}}, info.Tables[1].Rows,
		"dash line inside the body ends the section")
}

func TestParse_HeaderEndsSectionWithoutSwallowing(t *testing.T) {
	info := Parse("【基本信息】\n姓名：张三\n【档案】\n第一条\n【基础信息】\n电话：138")
	require.NotNil(t, info)

	assert.Equal(t, map[string]string{"姓名": "张三", "电话": "138"}, info.Basic.Map())
	assert.Equal(t, []string{"第一条"}, info.Archives)
}

func TestParse_KeyValueSeparator(t *testing.T) {
	info := Parse("【基本信息】\n时间：10:30\nName: Bob\n- 城市：上海\n无分隔符\n: 空键\n姓名：甲\n姓名：乙")
	require.NotNil(t, info)

	assert.Equal(t, Fields{
		{Key: "时间", Value: "10:30"},
		{Key: "Name", Value: "Bob"},
		{Key: "城市", Value: "上海"},
		{Key: "姓名", Value: "乙"},
	}, info.Basic)
}

func TestParse_MarkdownPipesAndDuplicateColumns(t *testing.T) {
	info := Parse("【表格：产品】\n| 名称 | 名称 |  |\n|---|---|---|\n| A | B | C |")
	require.NotNil(t, info)
	require.Len(t, info.Tables, 1)

	table := info.Tables[0]
	assert.Equal(t, []string{"名称", "名称 (2)", "列3"}, table.Columns)
	assert.Equal(t, []map[string]string{{"名称": "A", "名称 (2)": "B", "列3": "C"}}, table.Rows)
}

func TestParse_RecordsSeparatedByDelimiter(t *testing.T) {
	content := "【表格：跟进】\n更新时间：2024-01-01\n内容：电话\n---\n更新时间：2024-02-01\n内容：面谈\n---\n【档案】\n备注"
	info := Parse(content)
	require.NotNil(t, info)
	require.Len(t, info.Tables, 1)

	records := info.Tables[0].Records
	require.Len(t, records, 2)
	assert.Equal(t, "2024-01-01", records[0].UpdatedAt)
	assert.Equal(t, "2024-02-01", records[1].UpdatedAt)
	_, hasUpdated := records[0].Fields.Get(UpdatedAtKey)
	assert.False(t, hasUpdated, "updated time is lifted out of the field map")
	assert.Equal(t, []string{"备注"}, info.Archives)
}

func TestParse_ConsecutiveUpdatedTimesStartNewRecords(t *testing.T) {
	info := Parse("【表格：记录】\n最近更新时间: 1\n甲：a\n最近更新时间: 2\n乙：b")
	require.NotNil(t, info)

	records := info.Tables[0].Records
	require.Len(t, records, 2)
	assert.Equal(t, Record{UpdatedAt: "1", Fields: Fields{{Key: "甲", Value: "a"}}}, records[0])
	assert.Equal(t, Record{UpdatedAt: "2", Fields: Fields{{Key: "乙", Value: "b"}}}, records[1])
}

func TestParse_GenericBracketTable(t *testing.T) {
	info := Parse("【基本信息】\n姓名：张三\n【持仓】\n【明细】\n产品：A\n【明细】\n产品：B")
	require.NotNil(t, info)
	require.Len(t, info.Tables, 1)

	assert.Equal(t, "持仓", info.Tables[0].Name)
	assert.Len(t, info.Tables[0].Records, 2)
}

func TestParse_UnknownTableShapeIsSkipped(t *testing.T) {
	info := Parse("【表格：说明】\n这里没有表格\n也没有键值\n---\n【档案】\n保留")
	require.NotNil(t, info)
	assert.Empty(t, info.Tables)
	assert.Equal(t, []string{"保留"}, info.Archives)
}

func TestParse_CRLF(t *testing.T) {
	info := Parse("【基本信息】\r\n姓名：张三\r\n")
	require.NotNil(t, info)
	assert.Equal(t, map[string]string{"姓名": "张三"}, info.Basic.Map())
}

func TestParse_NeverPanicsOnTruncatedInput(t *testing.T) {
	runes := []rune(fullReply)
	for i := 0; i <= len(runes); i++ {
		prefix := string(runes[:i])
		assert.NotPanics(t, func() { Parse(prefix) }, "prefix length %d", i)
	}
}

func TestParse_StreamingPrefixGrowsMonotonically(t *testing.T) {
	partial := fullReply[:strings.Index(fullReply, "2024-05-03")]
	info := Parse(partial)
	require.NotNil(t, info)
	require.Len(t, info.Tables, 1)
	assert.Len(t, info.Tables[0].Rows, 1)
}

func TestParse_OddInputs(t *testing.T) {
	inputs := []string{
		"【表格：",
		"【表格：】\n|",
		"【表格：x】\n | \n | | ",
		"【明细】\n【表格：x】\n【明细】",
		"【档案】\n- \n-\n---",
		"【基本信息】\n：\n:\n::",
		"【基本信息】\n" + strings.Repeat("-", 2),
		"\x00【档案】\xff\xfe",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { Parse(in) }, "%q", in)
	}
}

func TestInfo_JSONKeepsBasicOrder(t *testing.T) {
	info := Parse("【基本信息】\n乙：2\n甲：1")
	require.NotNil(t, info)

	raw, err := json.Marshal(info)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"basic":{"乙":"2","甲":"1"}`)
	assert.Contains(t, string(raw), `"tables":[]`)
	assert.Contains(t, string(raw), `"archives":[]`)
}

func TestParse_RecordTableOnly(t *testing.T) {
	info := Parse("【资产明细】\n【明细】\n更新时间：2024-05-01\n产品：稳健理财\n金额：100000")
	require.NotNil(t, info)
	require.Len(t, info.Tables, 1)

	assets := info.Tables[0]
	assert.Equal(t, "资产明细", assets.Name)
	assert.Equal(t, TableRecords, assets.Kind)
	require.Len(t, assets.Records, 1)
	assert.Equal(t, "2024-05-01", assets.Records[0].UpdatedAt)
	assert.Equal(t, map[string]string{"产品": "稳健理财", "金额": "100000"}, assets.Records[0].Fields.Map())
	assert.Empty(t, info.Basic)
	assert.Equal(t, []string{}, info.Archives)
}

func TestParse_BasicValuesTrimmedOnly(t *testing.T) {
	info := Parse("【基本信息】\n备注：  a\\|b<br>c  \n- 渠道：微信")
	require.NotNil(t, info)

	note, _ := info.Basic.Get("备注")
	assert.Equal(t, `a\|b<br>c`, note)
	_, ok := info.Basic.Get("- 渠道")
	assert.True(t, ok)
}

func TestParse_DuplicateAndBlankHeaderCells(t *testing.T) {
	info := Parse("【表格：联系人】\n姓名 | 姓名 |  | 电话\n张三 | 李四 | x | 138")
	require.NotNil(t, info)
	require.Len(t, info.Tables, 1)
	assert.Equal(t, []string{"姓名", "姓名 (2)", "列3", "电话"}, info.Tables[0].Columns)
	assert.Equal(t, map[string]string{"姓名": "张三", "姓名 (2)": "李四", "列3": "x", "电话": "138"}, info.Tables[0].Rows[0])
}

func TestMemo(t *testing.T) {
	var m Memo
	first := m.Parse("【基本信息】\n姓名：张三")
	second := m.Parse("【基本信息】\n姓名：张三")
	assert.Same(t, first, second)

	third := m.Parse("【基本信息】\n姓名：李四")
	assert.NotSame(t, first, third)

	m.Reset()
	assert.Nil(t, m.Parse("plain"))
}

func TestFields_UnmarshalKeepsOrder(t *testing.T) {
	var info Info
	require.NoError(t, json.Unmarshal([]byte(`{"basic":{"乙":"2","甲":"1"},"tables":null,"archives":null}`), &info))
	assert.Equal(t, []string{"乙", "甲"}, info.Basic.Keys())

	var f Fields
	assert.Error(t, json.Unmarshal([]byte(`["x"]`), &f))
	assert.Error(t, json.Unmarshal([]byte(`{"k":1}`), &f))
}
