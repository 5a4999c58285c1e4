package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/multyvac/vac/config"
	"github.com/multyvac/vac/controllers"
	"github.com/multyvac/vac/fn"
	"github.com/multyvac/vac/helpers"
	"github.com/multyvac/vac/services"
	"github.com/multyvac/vac/worker"

	docs "github.com/multyvac/vac/docs"

	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

var (
	router *gin.Engine
	us     services.UserService
	as     services.AuthService
	als    services.AuditService
	js     services.JobService
	ks     services.KeyService
	vs     services.VolumeService
	ls     services.LayerService
	cs     services.ClusterService
	ws     services.WebhookService
	ac     controllers.AuthController
	uc     controllers.UserController
	alc    controllers.AuditController
	jc     controllers.JobController
	kc     controllers.KeyController
	vc     controllers.VolumeController
	lc     controllers.LayerController
	cc     controllers.ClusterController
	rc     controllers.ReportController
	wc     controllers.WebhookController
	conf   config.Config
	es     helpers.ElasticSearch
	db     *gorm.DB
	pool   *worker.Pool
	dsn    string
)

var authProviders = []string{"local"}

func init() {
	// Loading env variables and creating the config
	err := godotenv.Load(".env")
	if err != nil {
		log.Println("No .env file found, reading config from the environment")
	}
	conf = config.NewConfig()

	// Retrieving k8s clientset, only the kubernetes executor needs one
	if conf.Worker.Executor == "kubernetes" {
		var kubeConfig *rest.Config
		if conf.Environment == "production" {
			// creates the in-cluster config
			kubeConfig, err = rest.InClusterConfig()
			if err != nil {
				panic(err.Error())
			}
		} else {
			// Kubeconfig file will be fetched from the home folder for development purpose.
			home := homedir.HomeDir()
			configPath := filepath.Join(home, ".kube", "config")
			log.Printf("Using local kube config path: %s\n", configPath)
			kubeConfig, err = clientcmd.BuildConfigFromFlags("", configPath)
			if err != nil {
				panic(err.Error())
			}
		}
		conf.Kube.Clientset, err = kubernetes.NewForConfig(kubeConfig)
		if err != nil {
			panic(err.Error())
		}
	}

	// Establishing connection with PostgreSQL database
	dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%v sslmode=%s",
		conf.DB.Host,
		conf.DB.User,
		conf.DB.Password,
		conf.DB.Name,
		conf.DB.Port,
		conf.DB.SSL,
	)

	connected := false
	for !connected {
		db, err = gorm.Open(postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true, // disables implicit prepared statement usage
		}), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			log.Println("Error while connecting to Postgres")
			log.Println(err)
			log.Println("Retrying in 30 seconds..")
			time.Sleep(30 * time.Second)
		} else {
			connected = true
		}
	}
	config.InitDB(db)

	if conf.ES.CloudID != "" {
		es.Client, err = elasticsearch.NewClient(
			elasticsearch.Config{
				CloudID: conf.ES.CloudID,
				APIKey:  conf.ES.APIKey,
			})
		es.Index = conf.ES.Index

		if err != nil {
			log.Println("Error while connecting to ElasticSearch")
			log.Println(err)
		} else {
			es.Enabled = true
		}
	}
}

func init() {
	// Execution pool
	var runner worker.Runner
	if conf.Worker.Executor == "kubernetes" {
		runner = &worker.KubeRunner{Kube: conf.Kube}
	} else {
		runner = &worker.LocalRunner{
			DataDir:      conf.DataDir,
			BootstrapCmd: conf.Worker.BootstrapCmd,
			MaxOutput:    conf.Worker.MaxOutputKB * 1024,
			Registry:     fn.Default,
		}
	}
	pool = worker.NewPool(db, runner, conf.Worker, conf.DataDir)

	// Services
	us = services.NewUserService(db, conf)
	as = services.NewAuthService(db, conf, us)
	als = services.NewAuditService(db, es, conf)
	js = services.NewJobService(db, pool, conf)
	ks = services.NewKeyService(db, conf)
	vs = services.NewVolumeService(db, conf)
	ls = services.NewLayerService(db, conf)
	cs = services.NewClusterService(db, pool, conf)
	ws = services.NewWebhookService(db, conf, js)

	// only enabling active directory when a domain is configured
	if conf.LDAP.FQDN != "" {
		authProviders = append(authProviders, "active_directory")
	}

	// Controllers
	ac = controllers.NewAuthController(as, als, authProviders)
	uc = controllers.NewUserController(us, as, als, authProviders)
	alc = controllers.NewAuditController(als, as)
	jc = controllers.NewJobController(js, as, als)
	kc = controllers.NewKeyController(ks, as, als)
	vc = controllers.NewVolumeController(vs, as, als)
	lc = controllers.NewLayerController(ls, as, als)
	cc = controllers.NewClusterController(cs, as, als)
	rc = controllers.NewReportController(as, als, conf.DataDir)
	wc = controllers.NewWebhookController(ws, as, als)
}

//	@title			Multyvac API
//	@version		v1
//	@description	Batch job execution with volumes, layers and dedicated clusters.

//	@BasePath	/

//	@securityDefinitions.basic	BasicAuth
//	@description				Api key id and secret key, or "web-" prefixed username and password.

//	@securityDefinitions.apikey	Bearer
//	@in							header
//	@name						Authorization
//	@description				Type "Bearer" followed by a space and JWT token.

//	@securityDefinitions.apikey	Signature
//	@in							header
//	@name						webhook-signature
//	@description				HMAC signature over the delivery id, timestamp and body.

func main() {
	pool.Start()

	// LISTEN/NOTIFY wakes the dispatcher as soon as a job row lands.
	// Without it the pool still drains the queue on its poll interval.
	listener, err := worker.ListenForJobs(dsn, pool)
	if err != nil {
		log.Println("Error while listening on the jobs channel")
		log.Println(err)
	}

	expiry := time.NewTicker(time.Minute)
	go func() {
		for range expiry.C {
			if err := cs.ExpireClusters(); err != nil {
				log.Println("Error while releasing expired clusters")
				log.Println(err)
			}
		}
	}()

	router = gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Range", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	docs.SwaggerInfo.BasePath = "/"
	ac.SetAuthRoutes(&router.RouterGroup)
	jobs := router.Group("/job")
	invoices := router.Group("/invoice")
	keys := router.Group("/key")
	volumes := router.Group("/volume")
	layers := router.Group("/layer")
	clusters := router.Group("/cluster")
	reports := router.Group("/report")
	webhooks := router.Group("/webhook")
	users := router.Group("/users")
	audit := router.Group("/audit_logs")
	{
		jc.SetJobRoutes(jobs, conf)
		jc.SetInvoiceRoutes(invoices, conf)
		kc.SetKeyRoutes(keys, conf)
		vc.SetVolumeRoutes(volumes, conf)
		lc.SetLayerRoutes(layers, conf)
		cc.SetClusterRoutes(clusters, conf)
		rc.SetReportRoutes(reports, conf)
		wc.SetWebhookRoutes(webhooks, conf)
		uc.SetUserRoutes(users, conf)
		alc.SetAuditRoutes(audit, conf)
	}

	srv := &http.Server{Addr: ":8080", Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down..")

	// Stop taking requests, then give running jobs a window to finish
	// marking their rows. Whatever is left gets reconciled on next boot.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Println(err)
	}
	if listener != nil {
		_ = listener.Close()
	}
	expiry.Stop()
	if err := pool.Stop(ctx); err != nil {
		log.Println(err)
	}
}
