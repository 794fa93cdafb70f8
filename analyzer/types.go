package analyzer

import (
	"encoding/json"
	"math"
	"strconv"
)

// --- JSON 输出结构体定义 ---

// ErrorResult 用于在 JSON 格式中返回错误信息
type ErrorResult struct {
	Error string `json:"error"`
}

// Value 是可能为 NaN/Inf 的数值。encoding/json 不接受非有限数，
// 这里把它们编码成字符串 ("NaN", "+Inf", "-Inf")，保证数据问题在下游可见。
type Value float64

// MarshalJSON 实现 json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return json.Marshal(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return json.Marshal(f)
}

// UnmarshalJSON 接受数字或 MarshalJSON 产生的字符串
func (v *Value) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*v = Value(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*v = Value(f)
	return nil
}

// RegionDecomposition 代表单个地区的分解结果 (JSON)，百分比相对于基线年负担
type RegionDecomposition struct {
	Location              string `json:"location"`
	PopulationGrowth      Value  `json:"populationGrowth"`
	PopulationAging       Value  `json:"populationAging"`
	EpidemiologicalChange Value  `json:"epidemiologicalChange"`
	NetChange             Value  `json:"netChange"`
	BaselineBurden        Value  `json:"baselineBurden"`
	EndpointBurden        Value  `json:"endpointBurden"`
	BaselinePopulation    Value  `json:"baselinePopulation"`
	EndpointPopulation    Value  `json:"endpointPopulation"`
}

// SkippedRegion 代表被跳过的地区及原因 (JSON)
type SkippedRegion struct {
	Location string `json:"location"`
	Reason   string `json:"reason"`
}

// DecompositionAnalysisResult 代表一次分解分析的整体结果 (JSON)
type DecompositionAnalysisResult struct {
	RunID        string                `json:"runId,omitempty"`
	Cause        string                `json:"cause"`
	BaselineYear int                   `json:"baselineYear"`
	EndpointYear int                   `json:"endpointYear"`
	Unit         string                `json:"unit"`
	Regions      []RegionDecomposition `json:"regions"`
	Skipped      []SkippedRegion       `json:"skipped,omitempty"`
}

// APCPanelSummary 代表 APC 图中单个面板的摘要 (JSON)
type APCPanelSummary struct {
	Panel     string `json:"panel"`
	Sheet     string `json:"sheet"`
	Points    int    `json:"points"`
	MinY      Value  `json:"minY"`
	MaxY      Value  `json:"maxY"`
	PeakX     Value  `json:"peakX"`
	Reference *Value `json:"reference,omitempty"`
	// AboveReference 统计点估计高于参考线的点数
	AboveReference int `json:"aboveReference,omitempty"`
}

// APCAnalysisResult 代表 APC 工作簿的整体摘要 (JSON)
type APCAnalysisResult struct {
	RunID  string            `json:"runId,omitempty"`
	Panels []APCPanelSummary `json:"panels"`
}

// RiskFactorStat 代表热图中单个风险因素在 Global 列上的值 (JSON)
type RiskFactorStat struct {
	Risk   string `json:"risk"`
	Global Value  `json:"global"`
}

// RiskHeatmapResult 代表风险因素透视表的摘要 (JSON)
type RiskHeatmapResult struct {
	RunID       string           `json:"runId,omitempty"`
	Disease     string           `json:"disease"`
	Year        int              `json:"year"`
	RiskFactors int              `json:"riskFactors"`
	Locations   []string         `json:"locations"`
	TopN        int              `json:"topN"`
	Top         []RiskFactorStat `json:"top"`
	DataFile    string           `json:"dataFile,omitempty"`
	ImageFile   string           `json:"imageFile,omitempty"`
}
