package db

var NewWorkerSize = newWorkerSize
