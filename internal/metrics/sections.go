package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sectionMutationTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cvforge",
		Subsystem: "sections",
		Name:      "mutations_total",
		Help:      "分区操作成功总数，按实体类型与操作分类。",
	},
	[]string{"kind", "op"},
)

// SectionObserver 实现 sections.Observer。
type SectionObserver struct{}

// SectionMutation 记录一次成功的分区变更。
func (SectionObserver) SectionMutation(kind, op string) {
	sectionMutationTotal.WithLabelValues(kind, op).Inc()
}
