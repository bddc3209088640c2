package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// uploadsTotal 按结果统计上传
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textvault_uploads_total",
			Help: "Total number of submitted files by outcome",
		},
		[]string{"result"},
	)

	// blobWritesTotal 统计对象存储写入次数，去重命中不计入
	blobWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "textvault_blob_writes_total",
		Help: "Total number of blobs written to storage",
	})

	// integrityAnomaliesTotal 统计“有元数据无内容”的读取
	integrityAnomaliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "textvault_integrity_anomalies_total",
		Help: "Records whose content blob was missing on read",
	})

	sweptBlobsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "textvault_swept_blobs_total",
		Help: "Orphan blobs removed by the sweeper",
	})
)

const (
	resultCreated      = "created"
	resultDeduplicated = "deduplicated"
	resultRejected     = "rejected"
	resultFailed       = "failed"
)
